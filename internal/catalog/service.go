package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/pricing"
)

var (
	// ErrEventNotFound is returned when no event matches the slug or id.
	ErrEventNotFound = errors.New("catalog: event not found")
	// ErrSlugTaken is returned when an event slug already exists.
	ErrSlugTaken = errors.New("catalog: slug already in use")
)

const cachePrefix = "catalog:events:"

type queryProvider interface {
	ListPublishedEvents(ctx context.Context, arg db.ListPublishedEventsParams) ([]db.EventSummary, error)
	CountPublishedEvents(ctx context.Context) (int64, error)
	GetEventBySlug(ctx context.Context, slug string) (db.Event, error)
	GetEventByID(ctx context.Context, id int64) (db.Event, error)
	ListPhotosByEvent(ctx context.Context, eventID int64) ([]db.Photo, error)
	GetPhotosByIDs(ctx context.Context, ids []int64) ([]db.PhotoWithEvent, error)
	CreateEvent(ctx context.Context, arg db.CreateEventParams) (db.Event, error)
	UpdateEvent(ctx context.Context, arg db.UpdateEventParams) (db.Event, error)
	CreatePhoto(ctx context.Context, arg db.CreatePhotoParams) (db.Photo, error)
}

// Service serves events and their photo galleries.
type Service struct {
	queries      queryProvider
	pool         db.TxBeginner
	cache        *Cache
	log          zerolog.Logger
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies. Pool is optional; when set,
// photo registration runs in a single transaction.
type ServiceConfig struct {
	Queries      queryProvider
	Pool         db.TxBeginner
	Cache        *Cache
	Logger       zerolog.Logger
	DefaultLimit int
	MaxLimit     int
}

// Event is the public event payload.
type Event struct {
	ID         int64  `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
	Date       string `json:"date,omitempty"`
	CoverURL   string `json:"coverUrl,omitempty"`
	Published  bool   `json:"published"`
	PhotoCount int64  `json:"photoCount"`
}

// Photo is a purchasable photo, shaped so a client can add it to the cart verbatim.
type Photo struct {
	ID        int64           `json:"id"`
	URL       string          `json:"url"`
	Price     decimal.Decimal `json:"price"`
	EventID   string          `json:"eventId"`
	EventName string          `json:"eventName"`
}

// EventDetail is an event with its gallery.
type EventDetail struct {
	Event
	Photos []Photo `json:"photos"`
}

// EventList is one page of published events.
type EventList struct {
	Items []Event `json:"items"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// NewPhoto describes a stored file to register under an event.
type NewPhoto struct {
	Filename    string
	URL         string
	ContentType string
	SizeBytes   int64
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries provider is required")
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	defaultLimit = min(defaultLimit, maxLimit)
	return &Service{
		queries:      cfg.Queries,
		pool:         cfg.Pool,
		cache:        cfg.Cache,
		log:          cfg.Logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// Limits returns the default and maximum page sizes.
func (s *Service) Limits() (int, int) {
	return s.defaultLimit, s.maxLimit
}

// ListEvents returns published events, newest first.
func (s *Service) ListEvents(ctx context.Context, page, limit int) (EventList, error) {
	page = max(page, 1)
	if limit < 1 {
		limit = s.defaultLimit
	}
	limit = min(limit, s.maxLimit)

	key := fmt.Sprintf("%slist:%d:%d", cachePrefix, page, limit)
	var cached EventList
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	total, err := s.queries.CountPublishedEvents(ctx)
	if err != nil {
		return EventList{}, fmt.Errorf("count events: %w", err)
	}
	rows, err := s.queries.ListPublishedEvents(ctx, db.ListPublishedEventsParams{
		Limit:  int32(limit),
		Offset: int32(common.Offset(page, limit)),
	})
	if err != nil {
		return EventList{}, fmt.Errorf("list events: %w", err)
	}
	items := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev := toEvent(row.Event)
		ev.PhotoCount = row.PhotoCount
		items = append(items, ev)
	}
	result := EventList{Items: items, Total: total, Page: page, Limit: limit}
	if err := s.cache.SetJSON(ctx, key, result); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return result, nil
}

// EventDetail returns a published event and its photos.
func (s *Service) EventDetail(ctx context.Context, slug string) (EventDetail, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return EventDetail{}, ErrEventNotFound
	}
	key := cachePrefix + "detail:" + slug
	var cached EventDetail
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	row, err := s.queries.GetEventBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EventDetail{}, ErrEventNotFound
		}
		return EventDetail{}, fmt.Errorf("get event: %w", err)
	}
	if !row.Published {
		return EventDetail{}, ErrEventNotFound
	}
	photos, err := s.queries.ListPhotosByEvent(ctx, row.ID)
	if err != nil {
		return EventDetail{}, fmt.Errorf("list photos: %w", err)
	}
	detail := EventDetail{Event: toEvent(row), Photos: make([]Photo, 0, len(photos))}
	detail.PhotoCount = int64(len(photos))
	for _, p := range photos {
		detail.Photos = append(detail.Photos, toPhoto(p, row.Name))
	}
	if err := s.cache.SetJSON(ctx, key, detail); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return detail, nil
}

// PurchasablePhotos resolves photo ids belonging to published events.
// Unknown or unpublished ids are omitted from the result.
func (s *Service) PurchasablePhotos(ctx context.Context, ids []int64) ([]Photo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.queries.GetPhotosByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get photos: %w", err)
	}
	out := make([]Photo, 0, len(rows))
	for _, row := range rows {
		if !row.EventPublished {
			continue
		}
		out = append(out, toPhoto(row.Photo, row.EventName))
	}
	return out, nil
}

// CreateEventInput carries the admin create payload.
type CreateEventInput struct {
	Name      string `json:"name" validate:"required,max=200"`
	Slug      string `json:"slug" validate:"omitempty,max=120"`
	Location  string `json:"location" validate:"max=200"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CoverURL  string `json:"coverUrl" validate:"omitempty,url"`
	Published bool   `json:"published"`
}

// CreateEvent registers a new event.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (Event, error) {
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(in.Name)
	}
	if slug == "" {
		return Event{}, badRequest("slug", "slug could not be derived from name", nil)
	}
	date, err := parseDate(in.Date)
	if err != nil {
		return Event{}, badRequest("date", "date must be YYYY-MM-DD", err)
	}
	row, err := s.queries.CreateEvent(ctx, db.CreateEventParams{
		Slug:      slug,
		Name:      strings.TrimSpace(in.Name),
		Location:  strings.TrimSpace(in.Location),
		EventDate: date,
		CoverUrl:  strings.TrimSpace(in.CoverURL),
		Published: in.Published,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Event{}, ErrSlugTaken
		}
		return Event{}, fmt.Errorf("create event: %w", err)
	}
	s.invalidate(ctx)
	return toEvent(row), nil
}

// UpdateEventInput carries optional admin changes.
type UpdateEventInput struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=200"`
	Location  *string `json:"location" validate:"omitempty,max=200"`
	Date      *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CoverURL  *string `json:"coverUrl" validate:"omitempty,url"`
	Published *bool   `json:"published"`
}

// UpdateEvent applies partial changes to an event.
func (s *Service) UpdateEvent(ctx context.Context, id int64, in UpdateEventInput) (Event, error) {
	params := db.UpdateEventParams{ID: id}
	if in.Name != nil {
		params.Name = pgtype.Text{String: strings.TrimSpace(*in.Name), Valid: true}
	}
	if in.Location != nil {
		params.Location = pgtype.Text{String: strings.TrimSpace(*in.Location), Valid: true}
	}
	if in.CoverURL != nil {
		params.CoverUrl = pgtype.Text{String: strings.TrimSpace(*in.CoverURL), Valid: true}
	}
	if in.Published != nil {
		params.Published = pgtype.Bool{Bool: *in.Published, Valid: true}
	}
	if in.Date != nil {
		date, err := parseDate(*in.Date)
		if err != nil {
			return Event{}, badRequest("date", "date must be YYYY-MM-DD", err)
		}
		params.EventDate = date
	}
	row, err := s.queries.UpdateEvent(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("update event: %w", err)
	}
	s.invalidate(ctx)
	return toEvent(row), nil
}

// AddPhotos registers stored files as photos of an event.
func (s *Service) AddPhotos(ctx context.Context, eventID int64, files []NewPhoto) ([]Photo, error) {
	event, err := s.queries.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	insert := func(q queryProvider) ([]Photo, error) {
		out := make([]Photo, 0, len(files))
		for _, f := range files {
			row, err := q.CreatePhoto(ctx, db.CreatePhotoParams{
				EventID:     eventID,
				Url:         f.URL,
				Filename:    f.Filename,
				ContentType: f.ContentType,
				SizeBytes:   f.SizeBytes,
			})
			if err != nil {
				return nil, fmt.Errorf("create photo %s: %w", f.Filename, err)
			}
			out = append(out, toPhoto(row, event.Name))
		}
		return out, nil
	}

	var photos []Photo
	if s.pool != nil {
		err = db.InTx(ctx, s.pool, func(q *db.Queries) error {
			var txErr error
			photos, txErr = insert(q)
			return txErr
		})
	} else {
		photos, err = insert(s.queries)
	}
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return photos, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, cachePrefix); err != nil {
		s.log.Warn().Err(err).Msg("catalog cache invalidation failed")
	}
}

func toEvent(row db.Event) Event {
	ev := Event{
		ID:        row.ID,
		Slug:      row.Slug,
		Name:      row.Name,
		Location:  row.Location,
		CoverURL:  row.CoverUrl,
		Published: row.Published,
	}
	if row.EventDate.Valid {
		ev.Date = row.EventDate.Time.Format(time.DateOnly)
	}
	return ev
}

func toPhoto(row db.Photo, eventName string) Photo {
	return Photo{
		ID:        row.ID,
		URL:       row.Url,
		Price:     pricing.BaseUnitPrice,
		EventID:   strconv.FormatInt(row.EventID, 10),
		EventName: eventName,
	}
}

func parseDate(value string) (pgtype.Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return pgtype.Date{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return pgtype.Date{}, err
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details: map[string]any{
			"field": field,
		},
	}
}
