package db

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/depthfusion/internal/fusion/keyframe"
	"github.com/banshee-data/depthfusion/internal/fusion/transform"
)

// KeyFrameStore persists the key-frame database in fusion_keyframes.
type KeyFrameStore struct {
	db *DB
}

var _ keyframe.Store = (*KeyFrameStore)(nil)

// NewKeyFrameStore returns a store backed by db.
func NewKeyFrameStore(db *DB) *KeyFrameStore {
	return &KeyFrameStore{db: db}
}

func encodeDescriptor(d keyframe.Descriptor) []byte {
	buf := make([]byte, 8*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeDescriptor(b []byte) (keyframe.Descriptor, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("descriptor blob length %d is not a multiple of 8", len(b))
	}
	d := make(keyframe.Descriptor, len(b)/8)
	for i := range d {
		d[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return d, nil
}

// SaveKeyFrame inserts or replaces one key frame.
func (s *KeyFrameStore) SaveKeyFrame(ctx context.Context, kf keyframe.KeyFrame) error {
	pose, err := json.Marshal(kf.Pose)
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fusion_keyframes (keyframe_id, created_unix_nanos, pose_json, descriptor)
		 VALUES (?, ?, ?, ?)`,
		kf.ID, kf.CreatedAt.UnixNano(), string(pose), encodeDescriptor(kf.Descriptor))
	if err != nil {
		return fmt.Errorf("insert key frame: %w", err)
	}
	return nil
}

// DeleteKeyFrames removes the given key frames. Unknown IDs are ignored.
func (s *KeyFrameStore) DeleteKeyFrames(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM fusion_keyframes WHERE keyframe_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("delete key frames: %w", err)
	}
	return nil
}

// LoadKeyFrames returns every stored key frame, oldest first.
func (s *KeyFrameStore) LoadKeyFrames(ctx context.Context) ([]keyframe.KeyFrame, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyframe_id, created_unix_nanos, pose_json, descriptor
		   FROM fusion_keyframes ORDER BY created_unix_nanos ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keyframe.KeyFrame
	for rows.Next() {
		var (
			kf       keyframe.KeyFrame
			created  int64
			poseJSON string
			blob     []byte
		)
		if err := rows.Scan(&kf.ID, &created, &poseJSON, &blob); err != nil {
			return nil, err
		}
		var pose transform.Pose
		if err := json.Unmarshal([]byte(poseJSON), &pose); err != nil {
			return nil, fmt.Errorf("key frame %s: bad pose: %w", kf.ID, err)
		}
		desc, err := decodeDescriptor(blob)
		if err != nil {
			return nil, fmt.Errorf("key frame %s: %w", kf.ID, err)
		}
		kf.Pose = pose
		kf.Descriptor = desc
		kf.CreatedAt = time.Unix(0, created)
		out = append(out, kf)
	}
	return out, rows.Err()
}
