// Package loader provides a unified DocumentLoader interface and common file
// loaders for the ingestion pipeline.
//
// It bridges the gap between raw documentation sources and the rag.Document
// type consumed by the chunker and vector store. Each loader reads a specific
// format and produces []rag.Document with appropriate metadata; Markdown files
// keep their heading structure so heading-aware chunking works downstream.
//
// Supported formats out of the box:
//   - Plain text (.txt)
//   - Markdown (.md, .markdown)
//   - FAQ CSV with question/answer columns (.csv)
//   - JSON / JSONL document records (.json, .jsonl)
//
// Use Registry to route loading by file extension:
//
//	registry := loader.NewRegistry()
//	docs, err := registry.Load(ctx, "/path/to/guide.md")
//
// Custom loaders can be registered for any extension:
//
//	registry.Register(".xml", myXMLLoader)
package loader
