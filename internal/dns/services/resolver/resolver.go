// Package resolver decides how each inbound query is answered: from the
// cache, from name-server glue found in cached address responses, or by
// forwarding to the upstream resolver.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/haukened/rr-cache/internal/dns/common/clock"
	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/domain"
)

type Resolver struct {
	clock    clock.Clock
	codec    Codec
	logger   log.Logger
	store    RecordStore
	upstream UpstreamClient
}

type ResolverOptions struct {
	Clock    clock.Clock
	Codec    Codec
	Logger   log.Logger
	Store    RecordStore
	Upstream UpstreamClient
}

func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Resolver{
		clock:    opts.Clock,
		codec:    opts.Codec,
		logger:   opts.Logger,
		store:    opts.Store,
		upstream: opts.Upstream,
	}
}

// HandlePacket answers one inbound datagram. It returns false when no reply
// should be sent: the datagram was malformed, was itself a response, asked
// only unsupported questions, or the upstream could not be reached.
//
// Only the first supported question is resolved.
func (r *Resolver) HandlePacket(ctx context.Context, data []byte, client net.Addr) ([]byte, bool) {
	now := r.clock.Now()
	query, err := r.codec.Decode(data, now)
	if err != nil {
		r.logger.Warn(map[string]any{
			"client": addrString(client),
			"size":   len(data),
			"error":  err,
		}, "Dropping malformed packet")
		return nil, false
	}
	if query.IsResponse() {
		r.logger.Debug(map[string]any{"client": addrString(client), "id": query.ID}, "Ignoring response packet")
		return nil, false
	}

	r.logger.Debug(map[string]any{"client": addrString(client), "query": query.String()}, "Received query")

	for _, q := range query.Questions {
		if !q.Type.IsSupported() {
			r.logger.Warn(map[string]any{
				"client":   addrString(client),
				"question": q.String(),
				"error":    fmt.Errorf("%w: %s", domain.ErrUnsupportedRecordType, q.Type),
			}, "Skipping unsupported question")
			continue
		}
		return r.resolve(ctx, query, q, data, now)
	}
	return nil, false
}

func (r *Resolver) resolve(ctx context.Context, query *domain.Message, q domain.Question, data []byte, now time.Time) ([]byte, bool) {
	if out, ok := r.store.Replay(q.Type, q.Name, query.ID, now); ok {
		r.logger.Debug(map[string]any{"question": q.String(), "id": query.ID}, "Cache hit")
		return out, true
	}

	if q.Type == domain.RRTypeNS {
		if out, ok := r.answerFromGlue(query, now); ok {
			return out, true
		}
	}

	return r.forward(ctx, query, q, data)
}

// answerFromGlue synthesizes an NS answer from name-server records that a
// cached address response carried in its authority section. The synthesized
// answer is not cached.
func (r *Resolver) answerFromGlue(query *domain.Message, now time.Time) ([]byte, bool) {
	glue, ok := r.store.FindGlue(query.QuestionNames())
	if !ok {
		return nil, false
	}
	msg, err := r.codec.EncodeAnswer(query.ID, query.Questions, glue, now)
	if err != nil {
		r.logger.Warn(map[string]any{"id": query.ID, "error": err}, "Failed to synthesize answer from glue")
		return nil, false
	}
	r.logger.Debug(map[string]any{"answer": msg.String()}, "Answered from glue")
	return msg.Bytes(), true
}

// forward relays the original bytes upstream, caches the parsed reply under
// its own first question name and the query's type, and returns the reply
// unmodified.
func (r *Resolver) forward(ctx context.Context, query *domain.Message, q domain.Question, data []byte) ([]byte, bool) {
	reply, err := r.upstream.Exchange(ctx, data)
	if err != nil {
		r.logger.Warn(map[string]any{
			"question": q.String(),
			"id":       query.ID,
			"error":    err,
		}, "Upstream exchange failed")
		return nil, false
	}

	resp, err := r.codec.Decode(reply, r.clock.Now())
	if err != nil {
		r.logger.Warn(map[string]any{
			"question": q.String(),
			"id":       query.ID,
			"error":    err,
		}, "Dropping malformed upstream reply")
		return nil, false
	}

	key := q.Name
	if len(resp.Questions) > 0 {
		key = resp.Questions[0].Name
	}
	if err := r.store.Insert(q.Type, key, resp); err != nil {
		r.logger.Warn(map[string]any{"name": key, "error": err}, "Failed to cache upstream reply")
	}

	r.logger.Debug(map[string]any{"answer": resp.String()}, "Forwarded to upstream")
	return reply, true
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
