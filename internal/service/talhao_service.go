package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cloudfarm/internal/ids"
	"cloudfarm/internal/models"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/wire"
)

// ValidationError reports a rejected field of a talhão payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Scope limits what a caller can see. Admins see every farm.
type Scope struct {
	FarmID string
	All    bool
}

func ScopeFor(p models.Profile) Scope {
	return Scope{FarmID: p.FarmID, All: p.HasRole(models.RoleAdmin)}
}

func (s Scope) allows(t models.Talhao) bool {
	return s.All || t.FazendaID == s.FarmID
}

type TalhaoQuery struct {
	Cultura string
	Status  models.TalhaoStatus
}

type TalhaoService struct {
	talhoes   repository.TalhaoStore
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewTalhaoService(talhoes repository.TalhaoStore, publisher Publisher, log zerolog.Logger) *TalhaoService {
	return &TalhaoService{
		talhoes:   talhoes,
		publisher: publisher,
		log:       log.With().Str("component", "talhoes").Logger(),
		now:       time.Now,
	}
}

func (s *TalhaoService) List(ctx context.Context, scope Scope, q TalhaoQuery) ([]models.Talhao, error) {
	filter := repository.TalhaoFilter{Cultura: q.Cultura}
	if !scope.All {
		filter.FazendaID = scope.FarmID
	}
	all, err := s.talhoes.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]models.Talhao, 0, len(all))
	for _, t := range all {
		t.RefreshStatus(now)
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Get hides talhões outside the caller's scope behind ErrTalhaoNotFound.
func (s *TalhaoService) Get(ctx context.Context, scope Scope, id string) (models.Talhao, error) {
	t, err := s.talhoes.Get(ctx, id)
	if err != nil {
		return models.Talhao{}, err
	}
	if !scope.allows(t) {
		return models.Talhao{}, repository.ErrTalhaoNotFound
	}
	t.RefreshStatus(s.now())
	return t, nil
}

func (s *TalhaoService) Create(ctx context.Context, scope Scope, in models.TalhaoInput) (models.Talhao, error) {
	if in.Nome == nil {
		return models.Talhao{}, &ValidationError{Field: "nome", Message: "is required"}
	}

	now := s.now().UTC()
	t := models.Talhao{
		ID:        ids.New(),
		FazendaID: scope.FarmID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.Apply(&t)
	if err := validateTalhao(t); err != nil {
		return models.Talhao{}, err
	}
	if err := s.talhoes.Create(ctx, t); err != nil {
		return models.Talhao{}, err
	}

	t.RefreshStatus(now)
	s.announce(ctx, wire.EventTalhaoCreated, t, t)
	return t, nil
}

func (s *TalhaoService) Update(ctx context.Context, scope Scope, id string, in models.TalhaoInput) (models.Talhao, error) {
	t, err := s.Get(ctx, scope, id)
	if err != nil {
		return models.Talhao{}, err
	}

	if err := validateClear(in.Clear); err != nil {
		return models.Talhao{}, err
	}
	in.Apply(&t)
	t.UpdatedAt = s.now().UTC()
	if err := validateTalhao(t); err != nil {
		return models.Talhao{}, err
	}
	if err := s.talhoes.Update(ctx, t); err != nil {
		return models.Talhao{}, err
	}

	t.RefreshStatus(s.now())
	s.announce(ctx, wire.EventTalhaoUpdated, t, t)
	return t, nil
}

func (s *TalhaoService) Delete(ctx context.Context, scope Scope, id string) error {
	t, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.talhoes.Delete(ctx, id); err != nil {
		return err
	}
	s.announce(ctx, wire.EventTalhaoDeleted, t, map[string]string{"id": t.ID, "nome": t.Nome})
	return nil
}

func (s *TalhaoService) Estatisticas(ctx context.Context, scope Scope) (models.Estatisticas, error) {
	talhoes, err := s.List(ctx, scope, TalhaoQuery{})
	if err != nil {
		return models.Estatisticas{}, err
	}
	return models.ComputeEstatisticas(talhoes, s.now()), nil
}

func (s *TalhaoService) announce(ctx context.Context, event string, t models.Talhao, data any) {
	channels := []string{wire.ChannelNotifications}
	if t.FazendaID != "" {
		channels = append(channels, wire.FarmChannel(t.FazendaID))
	}
	publish(ctx, s.publisher, s.log, event, data, channels...)
}

func validateClear(fields []string) error {
	for _, field := range fields {
		if !models.IsClearable(field) {
			return &ValidationError{Field: "limpar", Message: fmt.Sprintf("%q cannot be cleared", field)}
		}
	}
	return nil
}

func validateTalhao(t models.Talhao) error {
	if strings.TrimSpace(t.Nome) == "" {
		return &ValidationError{Field: "nome", Message: "must not be empty"}
	}
	if t.AreaHectares < 0 {
		return &ValidationError{Field: "area_hectares", Message: "must not be negative"}
	}
	if t.DataPlantio != nil && t.DataColheitaPrevista != nil && t.DataColheitaPrevista.Before(*t.DataPlantio) {
		return &ValidationError{Field: "data_colheita_prevista", Message: "is before data_plantio"}
	}
	for i, c := range t.Coordenadas {
		if c[0] < -90 || c[0] > 90 || c[1] < -180 || c[1] > 180 {
			return &ValidationError{Field: "coordenadas", Message: fmt.Sprintf("point %d is out of range", i)}
		}
	}
	return nil
}
