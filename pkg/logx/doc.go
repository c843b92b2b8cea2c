// Package logx configures slotbot's structured logging.
//
// logx.Logger wraps zerolog with:
//   - readable console output (short timestamp and caller)
//   - JSON file output
//   - an optional operator chat sink (min level, rate limit, repeat collapsing)
package logx
