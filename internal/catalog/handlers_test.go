package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/catalog"
	"github.com/noah-isme/backend-fotoko/internal/db"
)

type fakeQueries struct {
	mu        sync.Mutex
	events    []db.Event
	photos    []db.Photo
	listCalls int
	nextPhoto int64
}

func newFakeQueries() *fakeQueries {
	date := pgtype.Date{Time: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Valid: true}
	return &fakeQueries{
		events: []db.Event{
			{ID: 1, Slug: "city-marathon", Name: "City Marathon", Location: "Rosario", EventDate: date, Published: true},
			{ID: 2, Slug: "draft-ride", Name: "Draft Ride", Published: false},
		},
		photos: []db.Photo{
			{ID: 10, EventID: 1, Url: "/uploads/a.jpg"},
			{ID: 11, EventID: 1, Url: "/uploads/b.jpg"},
			{ID: 20, EventID: 2, Url: "/uploads/c.jpg"},
		},
		nextPhoto: 100,
	}
}

func (f *fakeQueries) ListPublishedEvents(_ context.Context, arg db.ListPublishedEventsParams) ([]db.EventSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []db.EventSummary
	for _, ev := range f.events {
		if !ev.Published {
			continue
		}
		var count int64
		for _, p := range f.photos {
			if p.EventID == ev.ID {
				count++
			}
		}
		out = append(out, db.EventSummary{Event: ev, PhotoCount: count})
	}
	start := min(int(arg.Offset), len(out))
	end := min(start+int(arg.Limit), len(out))
	return out[start:end], nil
}

func (f *fakeQueries) CountPublishedEvents(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, ev := range f.events {
		if ev.Published {
			n++
		}
	}
	return n, nil
}

func (f *fakeQueries) GetEventBySlug(_ context.Context, slug string) (db.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.Slug == slug {
			return ev, nil
		}
	}
	return db.Event{}, pgx.ErrNoRows
}

func (f *fakeQueries) GetEventByID(_ context.Context, id int64) (db.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return db.Event{}, pgx.ErrNoRows
}

func (f *fakeQueries) ListPhotosByEvent(_ context.Context, eventID int64) ([]db.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Photo
	for _, p := range f.photos {
		if p.EventID == eventID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeQueries) GetPhotosByIDs(_ context.Context, ids []int64) ([]db.PhotoWithEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.PhotoWithEvent
	for _, id := range ids {
		for _, p := range f.photos {
			if p.ID != id {
				continue
			}
			for _, ev := range f.events {
				if ev.ID == p.EventID {
					out = append(out, db.PhotoWithEvent{Photo: p, EventName: ev.Name, EventPublished: ev.Published})
				}
			}
		}
	}
	return out, nil
}

func (f *fakeQueries) CreateEvent(_ context.Context, arg db.CreateEventParams) (db.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := db.Event{
		ID:        int64(len(f.events) + 1),
		Slug:      arg.Slug,
		Name:      arg.Name,
		Location:  arg.Location,
		EventDate: arg.EventDate,
		CoverUrl:  arg.CoverUrl,
		Published: arg.Published,
	}
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeQueries) UpdateEvent(_ context.Context, arg db.UpdateEventParams) (db.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ev := range f.events {
		if ev.ID != arg.ID {
			continue
		}
		if arg.Name.Valid {
			ev.Name = arg.Name.String
		}
		if arg.Published.Valid {
			ev.Published = arg.Published.Bool
		}
		if arg.EventDate.Valid {
			ev.EventDate = arg.EventDate
		}
		f.events[i] = ev
		return ev, nil
	}
	return db.Event{}, pgx.ErrNoRows
}

func (f *fakeQueries) CreatePhoto(_ context.Context, arg db.CreatePhotoParams) (db.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPhoto++
	p := db.Photo{ID: f.nextPhoto, EventID: arg.EventID, Url: arg.Url, Filename: arg.Filename, ContentType: arg.ContentType, SizeBytes: arg.SizeBytes}
	f.photos = append(f.photos, p)
	return p, nil
}

func newService(t *testing.T, q *fakeQueries) *catalog.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:      q,
		Cache:        catalog.NewCache(rdb, time.Minute),
		DefaultLimit: 20,
		MaxLimit:     50,
	})
	require.NoError(t, err)
	return svc
}

func newRouter(h *catalog.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/events", h.Events)
	r.Get("/api/v1/events/{slug}", h.EventDetail)
	r.Post("/api/v1/admin/events", h.CreateEvent)
	r.Patch("/api/v1/admin/events/{id}", h.UpdateEvent)
	return r
}

func TestEventsListOnlyPublished(t *testing.T) {
	q := newFakeQueries()
	router := newRouter(catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q)}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=500", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))

	var body struct {
		Data       []catalog.Event `json:"data"`
		Pagination struct {
			PerPage    int `json:"per_page"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "city-marathon", body.Data[0].Slug)
	require.Equal(t, "2024-03-10", body.Data[0].Date)
	require.EqualValues(t, 2, body.Data[0].PhotoCount)
	require.Equal(t, 50, body.Pagination.PerPage)
	require.Equal(t, 1, body.Pagination.TotalPages)
}

func TestEventsListIsCached(t *testing.T) {
	q := newFakeQueries()
	svc := newService(t, q)
	ctx := context.Background()

	_, err := svc.ListEvents(ctx, 1, 10)
	require.NoError(t, err)
	_, err = svc.ListEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, q.listCalls)

	_, err = svc.CreateEvent(ctx, catalog.CreateEventInput{Name: "Night Run", Published: true})
	require.NoError(t, err)

	list, err := svc.ListEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, q.listCalls)
	require.EqualValues(t, 2, list.Total)
}

func TestEventDetail(t *testing.T) {
	q := newFakeQueries()
	router := newRouter(catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q)}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/city-marathon", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data catalog.EventDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Photos, 2)
	photo := body.Data.Photos[0]
	require.Equal(t, "1", photo.EventID)
	require.Equal(t, "City Marathon", photo.EventName)
	require.Equal(t, "20", photo.Price.String())

	for _, slug := range []string{"draft-ride", "missing"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/"+slug, nil))
		require.Equal(t, http.StatusNotFound, rec.Code, slug)
	}
}

func TestPurchasablePhotosSkipsUnpublished(t *testing.T) {
	svc := newService(t, newFakeQueries())
	photos, err := svc.PurchasablePhotos(context.Background(), []int64{10, 20, 999})
	require.NoError(t, err)
	require.Len(t, photos, 1)
	require.EqualValues(t, 10, photos[0].ID)
}

func TestAdminCreateAndUpdateEvent(t *testing.T) {
	q := newFakeQueries()
	router := newRouter(catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q)}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/events", strings.NewReader(`{"name":"Trail 42K  Córdoba","date":"2024-06-01"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data catalog.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "trail-42k-c-rdoba", created.Data.Slug)
	require.False(t, created.Data.Published)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/admin/events/3", strings.NewReader(`{"published":true}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/admin/events/99", strings.NewReader(`{"published":true}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/events", strings.NewReader(`{"date":"tomorrow"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestAddPhotos(t *testing.T) {
	q := newFakeQueries()
	svc := newService(t, q)
	ctx := context.Background()

	photos, err := svc.AddPhotos(ctx, 1, []catalog.NewPhoto{
		{Filename: "photos-1.jpg", URL: "/uploads/photos-1.jpg", ContentType: "image/jpeg", SizeBytes: 42},
	})
	require.NoError(t, err)
	require.Len(t, photos, 1)
	require.Equal(t, "City Marathon", photos[0].EventName)

	_, err = svc.AddPhotos(ctx, 404, []catalog.NewPhoto{{Filename: "x.jpg"}})
	require.ErrorIs(t, err, catalog.ErrEventNotFound)
}

func TestNilServiceHandler(t *testing.T) {
	h := catalog.NewHandler(catalog.HandlerConfig{})
	rec := httptest.NewRecorder()
	h.Events(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "city-marathon-2024", catalog.Slugify("  City Marathon 2024! "))
	require.Equal(t, "", catalog.Slugify("***"))
}
