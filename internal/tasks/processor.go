package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cloudfarm/internal/models"
	"cloudfarm/internal/queue"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/storage"
	"cloudfarm/internal/wire"
)

type Publisher interface {
	Publish(ctx context.Context, env wire.Envelope) error
}

type Deps struct {
	Talhoes   repository.TalhaoStore
	Sessions  repository.SessionStore
	Images    repository.ImageStore
	Objects   storage.Objects
	Ledger    StatusLedger
	Publisher Publisher
}

// StatusChange is the payload of talhao_status_changed.
type StatusChange struct {
	TalhaoID  string              `json:"talhao_id"`
	Nome      string              `json:"nome"`
	FazendaID string              `json:"fazenda_id,omitempty"`
	From      models.TalhaoStatus `json:"from"`
	To        models.TalhaoStatus `json:"to"`
}

type Processor struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

func NewProcessor(deps Deps, logger zerolog.Logger) *Processor {
	if deps.Ledger == nil {
		deps.Ledger = NewMemoryLedger()
	}
	return &Processor{
		deps:   deps,
		logger: logger.With().Str("component", "tasks").Logger(),
		now:    time.Now,
	}
}

func (p *Processor) Handle(ctx context.Context, task queue.Task) error {
	switch task.Type {
	case queue.TaskStatusSweep:
		_, err := p.SweepStatuses(ctx)
		return err
	case queue.TaskSessionCleanup:
		return p.handleSessionCleanup(ctx)
	case queue.TaskImageIngest:
		return p.handleImageIngest(ctx, task)
	default:
		p.logger.Warn().Str("type", task.Type).Str("id", task.ID).Msg("unknown task type")
		return nil
	}
}

// SweepStatuses recomputes every talhão's status and announces the ones that
// moved since the previous sweep. The first sweep only records a baseline.
func (p *Processor) SweepStatuses(ctx context.Context) ([]StatusChange, error) {
	if p.deps.Talhoes == nil {
		return nil, nil
	}
	talhoes, err := p.deps.Talhoes.List(ctx, repository.TalhaoFilter{})
	if err != nil {
		return nil, fmt.Errorf("list talhoes: %w", err)
	}

	now := p.now()
	current := make(map[string]string, len(talhoes))
	for i := range talhoes {
		talhoes[i].RefreshStatus(now)
		current[talhoes[i].ID] = string(talhoes[i].Status)
	}

	previous, err := p.deps.Ledger.Sync(ctx, current)
	if err != nil {
		return nil, err
	}

	var changes []StatusChange
	for _, t := range talhoes {
		before, seen := previous[t.ID]
		if !seen || before == string(t.Status) {
			continue
		}
		change := StatusChange{
			TalhaoID:  t.ID,
			Nome:      t.Nome,
			FazendaID: t.FazendaID,
			From:      models.TalhaoStatus(before),
			To:        t.Status,
		}
		changes = append(changes, change)
		p.announce(ctx, change)
	}

	p.logger.Info().
		Int("talhoes", len(talhoes)).
		Int("changed", len(changes)).
		Msg("status sweep finished")
	return changes, nil
}

func (p *Processor) announce(ctx context.Context, change StatusChange) {
	if p.deps.Publisher == nil {
		return
	}
	channels := []string{wire.ChannelAlerts}
	if change.FazendaID != "" {
		channels = append(channels, wire.FarmChannel(change.FazendaID))
	}
	stamp := p.now().UTC().Format(time.RFC3339Nano)
	for _, ch := range channels {
		env, err := wire.New(wire.EventTalhaoStatusChanged, ch, change)
		if err != nil {
			p.logger.Error().Err(err).Msg("encode status change failed")
			return
		}
		env.Timestamp = stamp
		if err := p.deps.Publisher.Publish(ctx, env); err != nil {
			p.logger.Warn().Err(err).Str("channel", ch).Msg("publish status change failed")
		}
	}
}

func (p *Processor) handleSessionCleanup(ctx context.Context) error {
	if p.deps.Sessions == nil {
		return nil
	}
	removed, err := p.deps.Sessions.DeleteExpired(ctx, p.now())
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	p.logger.Info().Int64("removed", removed).Msg("expired sessions removed")
	return nil
}

func (p *Processor) handleImageIngest(ctx context.Context, task queue.Task) error {
	if task.ObjectKey == "" {
		p.logger.Warn().Str("id", task.ID).Msg("image ingest without object key")
		return nil
	}
	if p.deps.Objects == nil || p.deps.Images == nil {
		return nil
	}

	info, err := p.deps.Objects.Stat(ctx, task.ObjectKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		p.logger.Warn().Str("key", task.ObjectKey).Msg("uploaded object is gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", task.ObjectKey, err)
	}

	if err := p.deps.Images.UpdateObject(ctx, task.ObjectKey, info.ContentType, info.Size); err != nil {
		return fmt.Errorf("record %s: %w", task.ObjectKey, err)
	}
	p.logger.Info().
		Str("talhao_id", task.TalhaoID).
		Str("key", task.ObjectKey).
		Int64("size", info.Size).
		Msg("image ingested")
	return nil
}
