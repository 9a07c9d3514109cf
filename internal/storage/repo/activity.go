package repo

import (
	"context"
	"sync"
	"time"

	"tabkeeper/internal/logger"
	"tabkeeper/internal/storage/model"
	"tabkeeper/pkg/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxHistoryLimit     = 100
	defaultHistoryLimit = 50
)

// ActivityRepo 活动历史仓库，写入走异步批量缓冲
type ActivityRepo struct {
	BaseRepository[model.ActivityRecord]
	log       logger.Logger
	buffer    []*model.ActivityRecord
	bufferMu  sync.Mutex
	flushMu   sync.Mutex // 串行化落盘，保证 Flush 返回时此前的记录均已写入
	batchSize int
	flushCh   chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewActivityRepo 创建活动历史仓库并启动异步写入协程
func NewActivityRepo(db *gorm.DB, l logger.Logger) *ActivityRepo {
	if l == nil {
		l = logger.NewNop()
	}
	r := &ActivityRepo{
		BaseRepository: *NewBaseRepository[model.ActivityRecord](db),
		log:            l,
		buffer:         make([]*model.ActivityRecord, 0, 64),
		batchSize:      50,
		flushCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

// asyncWriter 定时或缓冲满时批量写入
func (r *ActivityRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		case <-r.flushCh:
			r.Flush()
		}
	}
}

// Flush 将缓冲区写入数据库，写入失败只记录日志
func (r *ActivityRepo) Flush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toWrite := r.buffer
	r.buffer = make([]*model.ActivityRecord, 0, 64)
	r.bufferMu.Unlock()

	if err := r.CreateBatch(context.Background(), toWrite, 100); err != nil {
		r.log.Err(err, "写入活动历史失败", "count", len(toWrite))
	}
}

// Stop 停止异步写入并刷新剩余数据，可重复调用
func (r *ActivityRepo) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Record 记录一条活动事件（异步写入）
func (r *ActivityRepo) Record(evt domain.ActivityEvent) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	record := &model.ActivityRecord{
		EventID:   evt.ID,
		Kind:      string(evt.Kind),
		Message:   evt.Message,
		Page:      evt.Page,
		TabID:     string(evt.TabID),
		Forced:    evt.Forced,
		Error:     evt.Error,
		Timestamp: evt.Timestamp,
		CreatedAt: time.Now(),
	}

	r.bufferMu.Lock()
	r.buffer = append(r.buffer, record)
	needFlush := len(r.buffer) >= r.batchSize
	r.bufferMu.Unlock()

	if needFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Recent 返回最近的活动事件（按时间倒序），包含尚未落盘的缓冲数据
func (r *ActivityRepo) Recent(ctx context.Context, limit int) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	r.Flush()
	records, err := r.FindAll(ctx, nil, &Pagination{Page: 1, Limit: limit}, Orders{
		{Field: "timestamp", Sort: "DESC"},
		{Field: "id", Sort: "DESC"},
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ActivityEvent, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.ActivityEvent{
			ID:        rec.EventID,
			Kind:      domain.EventKind(rec.Kind),
			Message:   rec.Message,
			Page:      rec.Page,
			TabID:     domain.TabID(rec.TabID),
			Forced:    rec.Forced,
			Error:     rec.Error,
			Timestamp: rec.Timestamp,
		})
	}
	return out, nil
}

// CleanupOld 根据保留天数清理旧事件
func (r *ActivityRepo) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	return r.DeleteWhere(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp < ?", cutoff)
	}))
}
