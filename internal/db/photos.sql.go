package db

import "context"

const photoColumns = `p.id, p.event_id, p.url, p.filename, p.content_type, p.size_bytes, p.created_at`

func photoFields(i *Photo) []any {
	return []any{&i.ID, &i.EventID, &i.Url, &i.Filename, &i.ContentType, &i.SizeBytes, &i.CreatedAt}
}

const listPhotosByEvent = `SELECT ` + photoColumns + ` FROM photos p WHERE p.event_id = $1 ORDER BY p.id`

func (q *Queries) ListPhotosByEvent(ctx context.Context, eventID int64) ([]Photo, error) {
	rows, err := q.db.Query(ctx, listPhotosByEvent, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Photo
	for rows.Next() {
		var i Photo
		if err := rows.Scan(photoFields(&i)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getPhotosByIDs = `SELECT ` + photoColumns + `, e.name, e.published
FROM photos p
JOIN events e ON e.id = p.event_id
WHERE p.id = ANY($1::bigint[])
ORDER BY p.id`

func (q *Queries) GetPhotosByIDs(ctx context.Context, ids []int64) ([]PhotoWithEvent, error) {
	rows, err := q.db.Query(ctx, getPhotosByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PhotoWithEvent
	for rows.Next() {
		var i PhotoWithEvent
		if err := rows.Scan(append(photoFields(&i.Photo), &i.EventName, &i.EventPublished)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createPhoto = `INSERT INTO photos AS p (event_id, url, filename, content_type, size_bytes)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + photoColumns

type CreatePhotoParams struct {
	EventID     int64
	Url         string
	Filename    string
	ContentType string
	SizeBytes   int64
}

func (q *Queries) CreatePhoto(ctx context.Context, arg CreatePhotoParams) (Photo, error) {
	var i Photo
	err := q.db.QueryRow(ctx, createPhoto,
		arg.EventID, arg.Url, arg.Filename, arg.ContentType, arg.SizeBytes,
	).Scan(photoFields(&i)...)
	return i, err
}
