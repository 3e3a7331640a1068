package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"cloudfarm/internal/ids"
	"cloudfarm/internal/media/sniffer"
	"cloudfarm/internal/media/svg"
	"cloudfarm/internal/models"
	"cloudfarm/internal/queue"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/storage"
	"cloudfarm/internal/wire"
)

var (
	ErrEmptyUpload      = errors.New("empty file")
	ErrUploadTooLarge   = errors.New("file too large")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrContentMismatch  = errors.New("declared content type does not match file")
)

const DefaultMaxImageSize = 20 << 20

type ImageService struct {
	talhoes   *TalhaoService
	images    repository.ImageStore
	objects   storage.Objects
	queue     Enqueuer
	publisher Publisher
	maxSize   int64
	log       zerolog.Logger
}

func NewImageService(
	talhoes *TalhaoService,
	images repository.ImageStore,
	objects storage.Objects,
	queue Enqueuer,
	publisher Publisher,
	log zerolog.Logger,
) *ImageService {
	return &ImageService{
		talhoes:   talhoes,
		images:    images,
		objects:   objects,
		queue:     queue,
		publisher: publisher,
		maxSize:   DefaultMaxImageSize,
		log:       log.With().Str("component", "images").Logger(),
	}
}

type UploadInput struct {
	TalhaoID     string
	Body         io.Reader
	DeclaredType string
}

func (s *ImageService) Upload(ctx context.Context, scope Scope, input UploadInput) (models.TalhaoImage, error) {
	talhao, err := s.talhoes.Get(ctx, scope, input.TalhaoID)
	if err != nil {
		return models.TalhaoImage{}, err
	}

	data, err := io.ReadAll(io.LimitReader(input.Body, s.maxSize+1))
	if err != nil {
		return models.TalhaoImage{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return models.TalhaoImage{}, ErrEmptyUpload
	}
	if int64(len(data)) > s.maxSize {
		return models.TalhaoImage{}, ErrUploadTooLarge
	}

	head := data
	if len(head) > sniffer.HeadSize {
		head = head[:sniffer.HeadSize]
	}
	kind, err := sniffer.DetectHead(head)
	if err != nil {
		return models.TalhaoImage{}, ErrUnsupportedMedia
	}
	declared := sniffer.BaseMIME(input.DeclaredType)
	if declared != "" && declared != "application/octet-stream" && declared != kind.MIME {
		return models.TalhaoImage{}, fmt.Errorf("%w: declared %s, actual %s", ErrContentMismatch, declared, kind.MIME)
	}

	if kind.Type == sniffer.TypeSVG {
		clean, err := svg.Sanitize(data)
		if err != nil {
			return models.TalhaoImage{}, ErrUnsupportedMedia
		}
		data = clean
	}

	key := path.Join("talhoes", talhao.ID, ids.New()+kind.Extension())
	info, err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), kind.MIME)
	if err != nil {
		return models.TalhaoImage{}, err
	}

	image := models.TalhaoImage{
		Key:         key,
		URL:         s.objects.URL(key),
		ContentType: kind.MIME,
		Size:        info.Size,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.images.Create(ctx, talhao.ID, image); err != nil {
		return models.TalhaoImage{}, fmt.Errorf("save image metadata: %w", err)
	}

	if s.queue != nil {
		if _, err := s.queue.Enqueue(ctx, queue.Task{Type: queue.TaskImageIngest, TalhaoID: talhao.ID, ObjectKey: key}); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("enqueue image ingest failed")
		}
	}
	if talhao.FazendaID != "" {
		publish(ctx, s.publisher, s.log, wire.EventImageUploaded, map[string]any{
			"talhao_id": talhao.ID,
			"imagem":    image,
		}, wire.FarmChannel(talhao.FazendaID))
	}

	s.log.Info().Str("talhao_id", talhao.ID).Str("key", key).Int64("size", image.Size).Msg("image stored")
	return image, nil
}

func (s *ImageService) List(ctx context.Context, scope Scope, talhaoID string) ([]models.TalhaoImage, error) {
	if _, err := s.talhoes.Get(ctx, scope, talhaoID); err != nil {
		return nil, err
	}
	return s.images.ListByTalhao(ctx, talhaoID)
}
