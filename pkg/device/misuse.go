package device

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// ErrMisuse is returned for requests rejected by Misuse. Nothing was sent to
// the chip.
var ErrMisuse = fmt.Errorf("device: request ignored: %w", status.InvalidData)

// Misuse reports a programming error such as an out-of-range option index.
// Builds with the bertdebug tag panic; otherwise the error is logged and the
// caller abandons the request with ErrMisuse.
func Misuse(log *slog.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if panicOnMisuse {
		panic("device: " + msg)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Error("programming error", "detail", msg)
}
