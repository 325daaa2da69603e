// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

package ebpf

import (
	"io"
	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
