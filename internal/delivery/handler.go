// Package delivery turns one inbound message into a file on disk and an
// accept/reject outcome.
package delivery

import (
	"errors"
	"os"

	"github.com/spf13/afero"

	"github.com/ibs-source/hoover-consumer/internal/checksum"
	"github.com/ibs-source/hoover-consumer/internal/destination"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// Handler writes message content to its resolved destination and verifies it.
// It holds no per-message state and is safe to reuse across reconnects.
type Handler struct {
	fs       afero.Fs
	resolver *destination.Resolver
	verifier *checksum.Verifier
	log      *log.Logger
}

// NewHandler creates a handler. A nil fs selects the OS filesystem.
func NewHandler(
	fs afero.Fs, resolver *destination.Resolver, verifier *checksum.Verifier, logger *log.Logger,
) *Handler {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Handler{fs: fs, resolver: resolver, verifier: verifier, log: logger}
}

// Handle processes one message. Every call returns exactly one outcome; no
// error escapes.
func (h *Handler) Handle(msg message.Inbound) message.Outcome {
	dest, err := h.resolver.Resolve(msg.Headers)
	if err != nil {
		return h.rejectUnresolved(msg, dest, err)
	}

	if err := h.write(dest, msg.Content); err != nil {
		h.log.ErrorWithFields(log.Fields{
			"delivery_tag": msg.DeliveryTag,
			"path":         dest.FinalPath,
			"reason":       message.ReasonWriteFailure.String(),
		}, "Failed to write %s: %v", dest.FinalPath, err)
		return message.Reject(message.ReasonWriteFailure, dest.FinalPath, "", dest.Checksum, err)
	}

	// The file stays on disk even when the checksum does not match; only the
	// acknowledgment changes.
	sum := h.verifier.Sum(msg.Content)
	if sum != dest.Checksum {
		h.log.ErrorWithFields(log.Fields{
			"delivery_tag": msg.DeliveryTag,
			"path":         dest.FinalPath,
			"reason":       message.ReasonChecksumMismatch.String(),
		}, "Checksum mismatch for %s (cksum: %s, was expecting %s)", dest.FinalPath, sum, dest.Checksum)
		return message.Reject(message.ReasonChecksumMismatch, dest.FinalPath, sum, dest.Checksum, nil)
	}

	h.log.InfoWithFields(log.Fields{
		"delivery_tag": msg.DeliveryTag,
		"bytes":        len(msg.Content),
	}, "Wrote output to %s (cksum: %s)", dest.FinalPath, sum)
	return message.Accept(dest.FinalPath, sum)
}

func (h *Handler) rejectUnresolved(msg message.Inbound, dest destination.Destination, err error) message.Outcome {
	if errors.Is(err, destination.ErrMissingChecksum) {
		h.log.ErrorWithFields(log.Fields{
			"delivery_tag": msg.DeliveryTag,
			"headers":      msg.Headers.Keys(),
			"reason":       message.ReasonMissingChecksumHeader.String(),
		}, "No checksum provided in message header")
		return message.Reject(message.ReasonMissingChecksumHeader, "", "", "", err)
	}

	filename, _ := msg.Headers.Get(message.HeaderFilename)
	h.log.ErrorWithFields(log.Fields{
		"delivery_tag": msg.DeliveryTag,
		"filename":     filename,
		"reason":       message.ReasonWriteFailure.String(),
	}, "Refusing to write delivery: %v", err)
	return message.Reject(message.ReasonWriteFailure, "", "", dest.Checksum, err)
}

func (h *Handler) write(dest destination.Destination, content []byte) error {
	exists, err := afero.DirExists(h.fs, dest.ParentDir)
	if err != nil {
		return err
	}
	if !exists {
		h.log.Info("Creating output dir [%s]", dest.ParentDir)
		if err := h.fs.MkdirAll(dest.ParentDir, dirMode); err != nil {
			return err
		}
	}
	return afero.WriteFile(h.fs, dest.FinalPath, content, fileMode)
}
