// Package kpdex embeds the kpdex retrieval engine in a Go program: filtered
// semantic search, classification and recommendations over knowledge
// products, without running the HTTP service.
//
// By default the engine keeps metadata in memory, embeds text with the local
// hashing provider and does not persist the index:
//
//	client, _ := kpdex.New(ctx, kpdex.WithDimensions(256))
//	defer client.Close()
//
//	_, _ = client.Documents().Upsert(ctx, products)
//	page, _ := client.Search().
//	    Where("domain", "finance").
//	    Contains("author", "doe").
//	    Text("bond pricing").
//	    Limit(10).
//	    Do(ctx)
//
// Plug a production embedder with WithEmbedder, durable metadata with
// WithSQLite or WithRedis, and snapshots with WithSnapshotDir.
//
//	recs, _ := client.Recommend(ctx, []kpdex.HistoryItem{{ID: "kp-1"}}, nil, 10)
//	labels, _ := client.Categories().ClassifyText(ctx, "index funds for beginners")
package kpdex
