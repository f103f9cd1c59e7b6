// Package logx configures lynxlib's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Error bursts bounded (optional per-second sampling of error lines)
package logx
