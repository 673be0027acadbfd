package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/klauspost/compress/gzip"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

// ExportFormat is the serialization format of an audit export.
type ExportFormat string

const (
	// FormatJSON is the only format currently produced. The constant
	// exists so export metadata stays meaningful if formats are added.
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures an export.
type ExportOptions struct {
	// Format defaults to FormatJSON.
	Format ExportFormat
	// Compress gzips the payload. Defaults to the vault's retention
	// policy setting when unset by the caller.
	Compress bool
}

// Export is a complete audit export plus metadata. This is the only place
// audit data leaves the system boundary; compliance reviews consume it.
type Export struct {
	Vault       custody.VaultID
	RecordCount int
	Format      ExportFormat
	Compressed  bool
	// Checksum is the hex-encoded chain head at export time.
	Checksum   string
	ExportedAt custody.UnixTime
	Data       []byte
}

// ExportData serializes the vault's full audit history. A successful export
// is recorded and is a precondition for retention cleanup.
func (l *Ledger) ExportData(db store.KVStore, vaultID custody.VaultID, opts ExportOptions) (*Export, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.Format != FormatJSON {
		return nil, errors.Wrapf(errors.ErrInput, "unsupported export format %q", opts.Format)
	}

	entries, err := l.Search(db, vaultID, Filters{})
	if err != nil {
		return nil, errors.Wrap(err, "cannot collect entries")
	}
	// Search returns newest first; exports are chronological.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrType, "cannot encode export: %s", err)
	}

	if opts.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, errors.Wrapf(errors.ErrType, "cannot compress export: %s", err)
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrapf(errors.ErrType, "cannot compress export: %s", err)
		}
		data = buf.Bytes()
	}

	now := custody.AsUnixTime(l.now())
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now))
	db.Set(lastExportKey(vaultID), ts[:])

	l.logger.Info("audit data exported",
		"vault", string(vaultID),
		"records", len(entries),
		"compressed", opts.Compress,
	)

	return &Export{
		Vault:       vaultID,
		RecordCount: len(entries),
		Format:      opts.Format,
		Compressed:  opts.Compress,
		Checksum:    hex.EncodeToString(db.Get(headKey(vaultID))),
		ExportedAt:  now,
		Data:        data,
	}, nil
}

// lastExport returns the time of the most recent successful export, or zero.
func (l *Ledger) lastExport(db store.ReadOnlyKVStore, vaultID custody.VaultID) custody.UnixTime {
	raw := db.Get(lastExportKey(vaultID))
	if len(raw) != 8 {
		return 0
	}
	return custody.UnixTime(binary.BigEndian.Uint64(raw))
}
