// Package langfuse implements [o11y.TraceExporter] for Langfuse, sending
// each LLM node call (model, provider, messages, reply, token usage,
// latency) to a Langfuse instance's HTTP ingestion API as a trace plus one
// generation. Wiring it is optional: unset LANGFUSE_PUBLIC_KEY leaves the
// node running with no exporter rather than failing startup.
//
//	exporter, err := langfuse.New(
//	    langfuse.WithPublicKey(cfg.LangfusePublicKey),
//	    langfuse.WithSecretKey(cfg.LangfuseSecretKey),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = exporter.ExportLLMCall(ctx, data)
package langfuse
