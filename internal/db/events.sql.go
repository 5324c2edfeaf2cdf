package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const eventColumns = `e.id, e.slug, e.name, e.location, e.event_date, e.cover_url, e.published, e.created_at, e.updated_at`

func eventFields(i *Event) []any {
	return []any{&i.ID, &i.Slug, &i.Name, &i.Location, &i.EventDate, &i.CoverUrl, &i.Published, &i.CreatedAt, &i.UpdatedAt}
}

const listPublishedEvents = `SELECT ` + eventColumns + `, (SELECT count(*) FROM photos p WHERE p.event_id = e.id) AS photo_count
FROM events e
WHERE e.published
ORDER BY e.event_date DESC NULLS LAST, e.id DESC
LIMIT $1 OFFSET $2`

type ListPublishedEventsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListPublishedEvents(ctx context.Context, arg ListPublishedEventsParams) ([]EventSummary, error) {
	rows, err := q.db.Query(ctx, listPublishedEvents, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []EventSummary
	for rows.Next() {
		var i EventSummary
		if err := rows.Scan(append(eventFields(&i.Event), &i.PhotoCount)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countPublishedEvents = `SELECT count(*) FROM events WHERE published`

func (q *Queries) CountPublishedEvents(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countPublishedEvents).Scan(&count)
	return count, err
}

const getEventBySlug = `SELECT ` + eventColumns + ` FROM events e WHERE e.slug = $1`

func (q *Queries) GetEventBySlug(ctx context.Context, slug string) (Event, error) {
	var i Event
	err := q.db.QueryRow(ctx, getEventBySlug, slug).Scan(eventFields(&i)...)
	return i, err
}

const getEventByID = `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1`

func (q *Queries) GetEventByID(ctx context.Context, id int64) (Event, error) {
	var i Event
	err := q.db.QueryRow(ctx, getEventByID, id).Scan(eventFields(&i)...)
	return i, err
}

const createEvent = `INSERT INTO events AS e (slug, name, location, event_date, cover_url, published)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + eventColumns

type CreateEventParams struct {
	Slug      string
	Name      string
	Location  string
	EventDate pgtype.Date
	CoverUrl  string
	Published bool
}

func (q *Queries) CreateEvent(ctx context.Context, arg CreateEventParams) (Event, error) {
	var i Event
	err := q.db.QueryRow(ctx, createEvent,
		arg.Slug, arg.Name, arg.Location, arg.EventDate, arg.CoverUrl, arg.Published,
	).Scan(eventFields(&i)...)
	return i, err
}

const updateEvent = `UPDATE events AS e SET
    name = COALESCE($2, e.name),
    location = COALESCE($3, e.location),
    cover_url = COALESCE($4, e.cover_url),
    published = COALESCE($5, e.published),
    event_date = COALESCE($6, e.event_date),
    updated_at = now()
WHERE e.id = $1
RETURNING ` + eventColumns

type UpdateEventParams struct {
	ID        int64
	Name      pgtype.Text
	Location  pgtype.Text
	CoverUrl  pgtype.Text
	Published pgtype.Bool
	EventDate pgtype.Date
}

func (q *Queries) UpdateEvent(ctx context.Context, arg UpdateEventParams) (Event, error) {
	var i Event
	err := q.db.QueryRow(ctx, updateEvent,
		arg.ID, arg.Name, arg.Location, arg.CoverUrl, arg.Published, arg.EventDate,
	).Scan(eventFields(&i)...)
	return i, err
}
