package audit

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/signing"
)

// Subject the ledger collaborator listens on. Entries are sent as requests so
// a missing or failing ledger surfaces synchronously — an unaudited action
// must never proceed.
const entrySubject = "audit.tre.entry"

// signedEntry is the wire form: the entry plus the engine's detached
// signature over its canonical bytes. The ledger countersigns with its own
// key; the two signatures are never interchangeable.
type signedEntry struct {
	Entry     Entry                    `json:"entry"`
	Signature signing.CommandSignature `json:"signature"`
	KeyID     signing.CommandKeyID     `json:"signing_key_id"`
}

// Ledger publishes signed audit entries to the ledger collaborator over NATS.
type Ledger struct {
	nc      *nats.Conn
	kp      *signing.KeyPair
	timeout time.Duration
	metrics *monitor.Metrics
}

// Connect dials the ledger bus. The keypair signs every outgoing entry.
// metrics may be nil.
func Connect(url string, kp *signing.KeyPair, timeout time.Duration, metrics *monitor.Metrics) (*Ledger, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("audit bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("audit bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to audit bus: %w", err)
	}
	log.Info().Str("url", url).Msg("connected to audit ledger bus")
	return &Ledger{nc: nc, kp: kp, timeout: timeout, metrics: metrics}, nil
}

// Close drains the connection.
func (l *Ledger) Close() {
	if l.nc != nil {
		l.nc.Close()
	}
}

// Record signs and ships one entry, waiting for the ledger's ack. Any failure
// is returned to the caller: the overall operation must fail rather than
// proceed unaudited.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.EntryID == "" {
		e.EntryID = uuid.New().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	canonical, err := signing.Canonicalize(e)
	if err != nil {
		return fmt.Errorf("audit entry %s: %w", e.EntryID, err)
	}
	sig := ed25519.Sign(l.kp.Private, canonical)

	msg, err := json.Marshal(signedEntry{
		Entry:     e,
		Signature: signing.CommandSignature(base64.StdEncoding.EncodeToString(sig)),
		KeyID:     l.kp.KeyID,
	})
	if err != nil {
		return fmt.Errorf("audit entry %s: %w", e.EntryID, err)
	}

	reqCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if _, err := l.nc.RequestWithContext(reqCtx, entrySubject, msg); err != nil {
		log.Error().Err(err).Str("entry_id", e.EntryID).Str("event", string(e.Event)).
			Msg("audit ledger write failed")
		return fmt.Errorf("audit entry %s: %w", e.EntryID, err)
	}

	if l.metrics != nil {
		l.metrics.AuditEntriesTotal.WithLabelValues(string(e.Event)).Inc()
	}
	log.Debug().
		Str("entry_id", e.EntryID).
		Str("event", string(e.Event)).
		Str("incident_id", e.IncidentID).
		Str("decision", e.Decision).
		Msg("audit entry recorded")
	return nil
}
