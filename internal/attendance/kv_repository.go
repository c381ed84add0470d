package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"qrattend/internal/store"
)

// Keys under which each collection is stored as a JSON array.
const (
	keySessions = "sessions"
	keyStudents = "students"
	keyRecords  = "attendanceRecords"
)

// KVRepository keeps every collection as one JSON document in a store.KV.
type KVRepository struct {
	kv store.KV
}

// NewKVRepository creates a repository over kv.
func NewKVRepository(kv store.KV) *KVRepository {
	return &KVRepository{kv: kv}
}

func decodeList[T any](raw []byte) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return out, nil
}

func encodeList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func load[T any](ctx context.Context, kv store.KV, key string) ([]T, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeList[T](raw)
}

// CreateSession appends s unless its id is taken.
func (r *KVRepository) CreateSession(ctx context.Context, s Session) error {
	return r.kv.Update(ctx, []string{keySessions}, func(cur map[string][]byte) (map[string][]byte, error) {
		sessions, err := decodeList[Session](cur[keySessions])
		if err != nil {
			return nil, err
		}
		for _, existing := range sessions {
			if existing.SessionID == s.SessionID {
				return nil, ErrSessionExists
			}
		}
		raw, err := encodeList(append(sessions, s))
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keySessions: raw}, nil
	})
}

// GetSession returns the session with the given id.
func (r *KVRepository) GetSession(ctx context.Context, id string) (Session, error) {
	sessions, err := load[Session](ctx, r.kv, keySessions)
	if err != nil {
		return Session{}, err
	}
	for _, s := range sessions {
		if s.SessionID == id {
			return s, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

// ListSessions returns sessions in creation order.
func (r *KVRepository) ListSessions(ctx context.Context) ([]Session, error) {
	return load[Session](ctx, r.kv, keySessions)
}

// SetSessionImage stores the hosted QR image URL on a session.
func (r *KVRepository) SetSessionImage(ctx context.Context, id, url string) error {
	return r.kv.Update(ctx, []string{keySessions}, func(cur map[string][]byte) (map[string][]byte, error) {
		sessions, err := decodeList[Session](cur[keySessions])
		if err != nil {
			return nil, err
		}
		found := false
		for i := range sessions {
			if sessions[i].SessionID == id {
				sessions[i].QRImageURL = url
				found = true
			}
		}
		if !found {
			return nil, ErrSessionNotFound
		}
		raw, err := encodeList(sessions)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keySessions: raw}, nil
	})
}

// DeleteSession removes the session and its records in one update.
func (r *KVRepository) DeleteSession(ctx context.Context, id string) (int, error) {
	var removed int
	err := r.kv.Update(ctx, []string{keySessions, keyRecords}, func(cur map[string][]byte) (map[string][]byte, error) {
		sessions, err := decodeList[Session](cur[keySessions])
		if err != nil {
			return nil, err
		}
		records, err := decodeList[Record](cur[keyRecords])
		if err != nil {
			return nil, err
		}

		keptSessions := sessions[:0:0]
		for _, s := range sessions {
			if s.SessionID != id {
				keptSessions = append(keptSessions, s)
			}
		}
		if len(keptSessions) == len(sessions) {
			return nil, ErrSessionNotFound
		}
		keptRecords := records[:0:0]
		for _, rec := range records {
			if rec.SessionID != id {
				keptRecords = append(keptRecords, rec)
			}
		}
		removed = len(records) - len(keptRecords)

		return encodePair(keySessions, keptSessions, keyRecords, keptRecords)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// CreateStudent adds st unless the register number is taken.
func (r *KVRepository) CreateStudent(ctx context.Context, st Student) error {
	return r.kv.Update(ctx, []string{keyStudents}, func(cur map[string][]byte) (map[string][]byte, error) {
		students, err := decodeList[Student](cur[keyStudents])
		if err != nil {
			return nil, err
		}
		for _, existing := range students {
			if existing.RegNo == st.RegNo {
				return nil, ErrStudentExists
			}
		}
		raw, err := encodeList(append(students, st))
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keyStudents: raw}, nil
	})
}

// UpdateStudent replaces the student with the same register number.
func (r *KVRepository) UpdateStudent(ctx context.Context, st Student) error {
	return r.kv.Update(ctx, []string{keyStudents}, func(cur map[string][]byte) (map[string][]byte, error) {
		students, err := decodeList[Student](cur[keyStudents])
		if err != nil {
			return nil, err
		}
		found := false
		for i := range students {
			if students[i].RegNo == st.RegNo {
				students[i] = st
				found = true
			}
		}
		if !found {
			return nil, ErrStudentNotFound
		}
		raw, err := encodeList(students)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keyStudents: raw}, nil
	})
}

// GetStudent returns the student with the given register number.
func (r *KVRepository) GetStudent(ctx context.Context, regNo string) (Student, error) {
	students, err := load[Student](ctx, r.kv, keyStudents)
	if err != nil {
		return Student{}, err
	}
	for _, st := range students {
		if st.RegNo == regNo {
			return st, nil
		}
	}
	return Student{}, ErrStudentNotFound
}

// ListStudents returns students in creation order.
func (r *KVRepository) ListStudents(ctx context.Context) ([]Student, error) {
	return load[Student](ctx, r.kv, keyStudents)
}

// DeleteStudent removes the student and their records in one update.
func (r *KVRepository) DeleteStudent(ctx context.Context, regNo string) (int, error) {
	var removed int
	err := r.kv.Update(ctx, []string{keyStudents, keyRecords}, func(cur map[string][]byte) (map[string][]byte, error) {
		students, err := decodeList[Student](cur[keyStudents])
		if err != nil {
			return nil, err
		}
		records, err := decodeList[Record](cur[keyRecords])
		if err != nil {
			return nil, err
		}

		keptStudents := students[:0:0]
		for _, st := range students {
			if st.RegNo != regNo {
				keptStudents = append(keptStudents, st)
			}
		}
		if len(keptStudents) == len(students) {
			return nil, ErrStudentNotFound
		}
		keptRecords := records[:0:0]
		for _, rec := range records {
			if rec.RegNo != regNo {
				keptRecords = append(keptRecords, rec)
			}
		}
		removed = len(records) - len(keptRecords)

		return encodePair(keyStudents, keptStudents, keyRecords, keptRecords)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// InsertRecord appends rec after checking the session still exists and the
// pair has not been marked yet. Both checks and the write share one update.
func (r *KVRepository) InsertRecord(ctx context.Context, rec Record) error {
	return r.kv.Update(ctx, []string{keySessions, keyRecords}, func(cur map[string][]byte) (map[string][]byte, error) {
		sessions, err := decodeList[Session](cur[keySessions])
		if err != nil {
			return nil, err
		}
		found := false
		for _, s := range sessions {
			if s.SessionID == rec.SessionID {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrSessionNotFound
		}

		records, err := decodeList[Record](cur[keyRecords])
		if err != nil {
			return nil, err
		}
		for _, existing := range records {
			if existing.SessionID == rec.SessionID && existing.RegNo == rec.RegNo {
				return nil, ErrAlreadyMarked
			}
		}
		raw, err := encodeList(append(records, rec))
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keyRecords: raw}, nil
	})
}

// ListRecords returns matching records in insertion order.
func (r *KVRepository) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	records, err := load[Record](ctx, r.kv, keyRecords)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpdateRecordStatus overrides the status of one record.
func (r *KVRepository) UpdateRecordStatus(ctx context.Context, id string, status Status) (Record, error) {
	var updated Record
	err := r.kv.Update(ctx, []string{keyRecords}, func(cur map[string][]byte) (map[string][]byte, error) {
		records, err := decodeList[Record](cur[keyRecords])
		if err != nil {
			return nil, err
		}
		idx := -1
		for i := range records {
			if records[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrRecordNotFound
		}
		records[idx].Status = status
		updated = records[idx]
		raw, err := encodeList(records)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keyRecords: raw}, nil
	})
	return updated, err
}

// DeleteRecord removes one record by id.
func (r *KVRepository) DeleteRecord(ctx context.Context, id string) error {
	return r.kv.Update(ctx, []string{keyRecords}, func(cur map[string][]byte) (map[string][]byte, error) {
		records, err := decodeList[Record](cur[keyRecords])
		if err != nil {
			return nil, err
		}
		kept := records[:0:0]
		for _, rec := range records {
			if rec.ID != id {
				kept = append(kept, rec)
			}
		}
		if len(kept) == len(records) {
			return nil, ErrRecordNotFound
		}
		raw, err := encodeList(kept)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{keyRecords: raw}, nil
	})
}

func encodePair[A, B any](keyA string, a []A, keyB string, b []B) (map[string][]byte, error) {
	rawA, err := encodeList(a)
	if err != nil {
		return nil, err
	}
	rawB, err := encodeList(b)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{keyA: rawA, keyB: rawB}, nil
}
