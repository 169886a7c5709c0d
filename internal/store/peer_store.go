package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/peercatalog"
)

// PeerConnectionStore implements peercatalog.Store over peer_connections.
type PeerConnectionStore struct {
	DB *gorm.DB
}

func NewPeerConnectionStore(db *gorm.DB) *PeerConnectionStore {
	return &PeerConnectionStore{DB: db}
}

var _ peercatalog.Store = (*PeerConnectionStore)(nil)

func (s *PeerConnectionStore) GetConnection(ctx context.Context, source, target string) (*domain.PeerConnection, error) {
	var row peerConnectionRow
	err := s.DB.WithContext(ctx).First(&row, "source = ? AND target = ?", source, target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.NotFound, "no peer connection row")
	}
	if err != nil {
		return nil, err
	}
	return rowToConnection(row), nil
}

func (s *PeerConnectionStore) PutConnection(ctx context.Context, conn domain.PeerConnection) error {
	row := connectionToRow(conn)
	return s.DB.WithContext(ctx).Save(&row).Error
}

func (s *PeerConnectionStore) ConnectionsFrom(ctx context.Context, source string) ([]domain.PeerConnection, error) {
	var rows []peerConnectionRow
	if err := s.DB.WithContext(ctx).Find(&rows, "source = ?", source).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PeerConnection, 0, len(rows))
	for _, row := range rows {
		out = append(out, *rowToConnection(row))
	}
	return out, nil
}

func rowToConnection(row peerConnectionRow) *domain.PeerConnection {
	return &domain.PeerConnection{
		Source:       row.Source,
		Target:       row.Target,
		LatencyMS:    row.LatencyMS,
		BandwidthBPS: row.BandwidthBPS,
		Status:       domain.PeerConnStatus(row.Status),
		LastProbedAt: row.LastProbedAt,
		SuccessCount: row.SuccessCount,
		FailureCount: row.FailureCount,
	}
}

func connectionToRow(c domain.PeerConnection) peerConnectionRow {
	return peerConnectionRow{
		Source:       c.Source,
		Target:       c.Target,
		LatencyMS:    c.LatencyMS,
		BandwidthBPS: c.BandwidthBPS,
		Status:       string(c.Status),
		LastProbedAt: c.LastProbedAt,
		SuccessCount: c.SuccessCount,
		FailureCount: c.FailureCount,
	}
}

// EdgeStore implements domain.EdgeNode CRUD, and in turn
// peercatalog.EdgeSource and scheduler.EdgeSource — both just need "read
// one edge's current fields" over the same table.
type EdgeStore struct {
	DB *gorm.DB
}

func NewEdgeStore(db *gorm.DB) *EdgeStore {
	return &EdgeStore{DB: db}
}

var _ peercatalog.EdgeSource = (*EdgeStore)(nil)

func (s *EdgeStore) GetEdge(ctx context.Context, edgeID string) (*domain.EdgeNode, error) {
	edge, err := s.Get(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// Get satisfies scheduler.EdgeSource.
func (s *EdgeStore) Get(ctx context.Context, edgeID string) (domain.EdgeNode, error) {
	var row edgeNodeRow
	err := s.DB.WithContext(ctx).First(&row, "id = ?", edgeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.EdgeNode{}, apierr.New(apierr.NotFound, "unknown edge node")
	}
	if err != nil {
		return domain.EdgeNode{}, err
	}
	return rowToEdge(row), nil
}

func (s *EdgeStore) Put(ctx context.Context, edge domain.EdgeNode) error {
	row := edgeToRow(edge)
	return s.DB.WithContext(ctx).Save(&row).Error
}

// List returns every known edge node, the set the hub's active peer
// prober walks each tick.
func (s *EdgeStore) List(ctx context.Context) ([]domain.EdgeNode, error) {
	var rows []edgeNodeRow
	if err := s.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.EdgeNode, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToEdge(row))
	}
	return out, nil
}

func (s *EdgeStore) Heartbeat(ctx context.Context, edgeID string, cacheUsedBytes uint64, now time.Time) error {
	return s.DB.WithContext(ctx).Model(&edgeNodeRow{}).Where("id = ?", edgeID).Updates(map[string]any{
		"cache_used_bytes": cacheUsedBytes,
		"last_seen":        now,
		"status":           string(domain.EdgeOnline),
	}).Error
}

func rowToEdge(row edgeNodeRow) domain.EdgeNode {
	var loc *time.Location
	if row.SyncWindowTZ != "" {
		if l, err := time.LoadLocation(row.SyncWindowTZ); err == nil {
			loc = l
		}
	}
	return domain.EdgeNode{
		ID:                  row.ID,
		Endpoint:            row.Endpoint,
		Region:              row.Region,
		Status:              domain.EdgeStatus(row.Status),
		MaxUploadBPS:        row.MaxUploadBPS,
		MaxDownloadBPS:      row.MaxDownloadBPS,
		MaxConcurrency:      row.MaxConcurrency,
		BytesTransferred:    row.BytesTransferred,
		ConsecutiveFailures: row.ConsecutiveFailures,
		BackoffUntil:        row.BackoffUntil,
		LastSeen:            row.LastSeen,
		CacheUsedBytes:      row.CacheUsedBytes,
		SyncWindow: domain.SyncWindow{
			Start:    time.Duration(row.SyncWindowStartSecs) * time.Second,
			End:      time.Duration(row.SyncWindowEndSecs) * time.Second,
			Location: loc,
		},
	}
}

func edgeToRow(e domain.EdgeNode) edgeNodeRow {
	tz := ""
	if e.SyncWindow.Location != nil {
		tz = e.SyncWindow.Location.String()
	}
	return edgeNodeRow{
		ID:                  e.ID,
		Endpoint:            e.Endpoint,
		Region:              e.Region,
		Status:              string(e.Status),
		MaxUploadBPS:        e.MaxUploadBPS,
		MaxDownloadBPS:      e.MaxDownloadBPS,
		SyncWindowStartSecs: int64(e.SyncWindow.Start / time.Second),
		SyncWindowEndSecs:   int64(e.SyncWindow.End / time.Second),
		SyncWindowTZ:        tz,
		MaxConcurrency:      e.MaxConcurrency,
		BytesTransferred:    e.BytesTransferred,
		ConsecutiveFailures: e.ConsecutiveFailures,
		BackoffUntil:        e.BackoffUntil,
		LastSeen:            e.LastSeen,
		CacheUsedBytes:      e.CacheUsedBytes,
	}
}
