package marketdata

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/models"
	"sentinel/internal/repository"
	"sentinel/pkg/utils"
)

// ============ Inline FNV-1a hash без аллокаций ============
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки без аллокаций.
// В отличие от fnv.New32a() не создаёт объект на куче.
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// seriesKey - составной ключ серии свечей.
// Go оптимизирует struct keys в map, конкатенация строк не нужна.
type seriesKey struct {
	Symbol    string
	Timeframe string
}

// series - горячее окно одной пары (symbol, timeframe).
// Свечи упорядочены по OpenTime по возрастанию, самая свежая - последняя.
type series struct {
	bars []models.Bar
}

// Store - многоуровневое хранилище рыночных данных.
//
// Горячий уровень: шардированные in-memory окна фиксированной ёмкости.
// Символ+таймфрейм детерминированно маппится на шард через FNV-1a,
// у каждого шарда собственный мьютекс - обновления разных символов
// не блокируют друг друга.
//
// Тёплый уровень: вытесненные свечи асинхронно уходят в Postgres
// через буферизованный канал. Переполнение канала или ошибка вставки
// логируется и считается метрикой, но никогда не блокирует горячий путь.
type Store struct {
	shards    []*storeShard
	numShards uint32

	capacity        int
	snapshotHistory int

	repo   *repository.BarRepository
	logger *utils.Logger

	// Канал асинхронного сброса в warm-хранилище
	spill     chan []models.Bar
	spillWg   sync.WaitGroup
	spillOnce sync.Once
}

// storeShard - один шард с собственным мьютексом.
type storeShard struct {
	series map[seriesKey]*series

	// Кэш экстремумов 24h/7d по символам этого шарда
	ranges map[string]*models.PriceRange

	// Последний снимок индикаторов + кольцо истории
	snapshots map[string]models.IndicatorSnapshot
	history   map[string][]models.IndicatorSnapshot

	mu sync.RWMutex
}

const defaultSpillBuffer = 64

// NewStore создаёт хранилище с numShards шардами.
// repo может быть nil - тогда вытесненные свечи отбрасываются
// (режим без БД, используется в тестах).
func NewStore(numShards, capacity, snapshotHistory int, repo *repository.BarRepository, logger *utils.Logger) *Store {
	if numShards <= 0 {
		numShards = 16
	}
	if capacity <= 0 {
		capacity = 200
	}
	if snapshotHistory <= 0 {
		snapshotHistory = 100
	}
	if logger == nil {
		logger = utils.InitLogger(utils.LogConfig{Level: "error"})
	}

	s := &Store{
		shards:          make([]*storeShard, numShards),
		numShards:       uint32(numShards),
		capacity:        capacity,
		snapshotHistory: snapshotHistory,
		repo:            repo,
		logger:          logger,
		spill:           make(chan []models.Bar, defaultSpillBuffer),
	}

	for i := 0; i < numShards; i++ {
		s.shards[i] = &storeShard{
			series:    make(map[seriesKey]*series),
			ranges:    make(map[string]*models.PriceRange),
			snapshots: make(map[string]models.IndicatorSnapshot),
			history:   make(map[string][]models.IndicatorSnapshot),
		}
	}

	if repo != nil {
		s.spillWg.Add(1)
		go s.spillWorker()
	}

	return s
}

// getShard возвращает шард для пары (symbol, timeframe).
func (s *Store) getShard(symbol, timeframe string) *storeShard {
	h := fnvHash(symbol)
	for i := 0; i < len(timeframe); i++ {
		h ^= uint32(timeframe[i])
		h *= fnvPrime32
	}
	return s.shards[h%s.numShards]
}

// symbolShard возвращает шард для данных уровня символа
// (диапазоны цен, снимки индикаторов).
func (s *Store) symbolShard(symbol string) *storeShard {
	return s.shards[fnvHash(symbol)%s.numShards]
}

// Update добавляет свечу в горячее окно.
//
// Если OpenTime совпадает с последней свечой - это обновление
// текущей (незакрытой) свечи, она заменяется на месте. Иначе свеча
// добавляется в конец. При переполнении ёмкости самая старая свеча
// вытесняется FIFO и уходит в warm-хранилище асинхронно.
func (s *Store) Update(symbol, timeframe string, bar models.Bar) {
	bar.Symbol = symbol
	bar.Timeframe = timeframe

	shard := s.getShard(symbol, timeframe)
	key := seriesKey{Symbol: symbol, Timeframe: timeframe}

	var evicted []models.Bar

	shard.mu.Lock()
	sr := shard.series[key]
	if sr == nil {
		sr = &series{bars: make([]models.Bar, 0, s.capacity)}
		shard.series[key] = sr
	}

	n := len(sr.bars)
	switch {
	case n > 0 && sr.bars[n-1].OpenTime.Equal(bar.OpenTime):
		// Незакрытая свеча обновляется на месте
		sr.bars[n-1] = bar
	case n > 0 && bar.OpenTime.Before(sr.bars[n-1].OpenTime):
		// Запоздавшая свеча из прошлого - горячее окно её не принимает
		shard.mu.Unlock()
		if s.logger != nil {
			s.logger.Debug("stale bar ignored",
				utils.Symbol(symbol),
				utils.Timeframe(timeframe),
				utils.Any("open_time", bar.OpenTime))
		}
		StaleBarsIgnored.WithLabelValues(symbol, timeframe).Inc()
		return
	default:
		sr.bars = append(sr.bars, bar)
		if len(sr.bars) > s.capacity {
			over := len(sr.bars) - s.capacity
			evicted = make([]models.Bar, over)
			copy(evicted, sr.bars[:over])
			sr.bars = sr.bars[over:]
		}
	}
	shard.mu.Unlock()

	s.updateRange(symbol, bar)

	HotBarsTotal.WithLabelValues(symbol, timeframe).Inc()

	if len(evicted) > 0 {
		s.spillAsync(evicted)
	}
}

// updateRange инкрементально обновляет кэш экстремумов 24h/7d.
// 24h окно сбрасывается на границе суток UTC.
func (s *Store) updateRange(symbol string, bar models.Bar) {
	shard := s.symbolShard(symbol)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	day := utils.GetDayStartFrom(bar.OpenTime)
	r := shard.ranges[symbol]
	if r == nil || !r.Day.Equal(day) {
		prev := r
		r = &models.PriceRange{Symbol: symbol, Day: day}
		r.High24h = bar.High
		r.Low24h = bar.Low
		if prev != nil {
			// 7d окно переживает смену суток
			r.High7d = utils.Max(prev.High7d, bar.High)
			r.Low7d = utils.Min(prev.Low7d, bar.Low)
		} else {
			r.High7d = bar.High
			r.Low7d = bar.Low
		}
		shard.ranges[symbol] = r
		return
	}

	r.High24h = utils.Max(r.High24h, bar.High)
	r.Low24h = utils.Min(r.Low24h, bar.Low)
	r.High7d = utils.Max(r.High7d, bar.High)
	r.Low7d = utils.Min(r.Low7d, bar.Low)
}

// Range возвращает копию кэша экстремумов для символа.
func (s *Store) Range(symbol string) (models.PriceRange, bool) {
	shard := s.symbolShard(symbol)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	r := shard.ranges[symbol]
	if r == nil {
		return models.PriceRange{}, false
	}
	return *r, true
}

// Read возвращает до limit последних свечей, самая свежая - последняя.
// Возвращается копия: читатель никогда не видит наполовину записанную свечу
// и не держит ссылку на внутренний буфер.
func (s *Store) Read(symbol, timeframe string, limit int) []models.Bar {
	shard := s.getShard(symbol, timeframe)
	key := seriesKey{Symbol: symbol, Timeframe: timeframe}

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	sr := shard.series[key]
	if sr == nil || len(sr.bars) == 0 {
		return nil
	}

	n := len(sr.bars)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Bar, limit)
	copy(out, sr.bars[n-limit:])
	return out
}

// LastBar возвращает самую свежую свечу серии.
func (s *Store) LastBar(symbol, timeframe string) (models.Bar, bool) {
	shard := s.getShard(symbol, timeframe)
	key := seriesKey{Symbol: symbol, Timeframe: timeframe}

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	sr := shard.series[key]
	if sr == nil || len(sr.bars) == 0 {
		return models.Bar{}, false
	}
	return sr.bars[len(sr.bars)-1], true
}

// ReadRange возвращает свечи в интервале [from, to].
// Сначала горячее окно; если запрошенный интервал начинается раньше
// самой старой горячей свечи и подключено warm-хранилище, недостающий
// хвост дочитывается из БД.
func (s *Store) ReadRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	shard := s.getShard(symbol, timeframe)
	key := seriesKey{Symbol: symbol, Timeframe: timeframe}

	shard.mu.RLock()
	var hot []models.Bar
	var oldestHot time.Time
	if sr := shard.series[key]; sr != nil && len(sr.bars) > 0 {
		oldestHot = sr.bars[0].OpenTime
		for _, b := range sr.bars {
			if !b.OpenTime.Before(from) && !b.OpenTime.After(to) {
				hot = append(hot, b)
			}
		}
	}
	shard.mu.RUnlock()

	// Горячее окно покрывает весь интервал
	if s.repo == nil || (!oldestHot.IsZero() && !from.Before(oldestHot)) {
		return hot, nil
	}

	warmTo := to
	if !oldestHot.IsZero() && oldestHot.Before(to) {
		warmTo = oldestHot.Add(-time.Nanosecond)
	}

	warm, err := s.repo.WarmBarsInRange(ctx, symbol, timeframe, from, warmTo)
	if err != nil {
		// Деградация: отдаём что есть в горячем окне
		if s.logger != nil {
			s.logger.Warn("warm read failed, serving hot window only",
				utils.Symbol(symbol),
				utils.Timeframe(timeframe),
				utils.Err(err))
		}
		WarmReadErrors.WithLabelValues(symbol).Inc()
		return hot, nil
	}

	return append(warm, hot...), nil
}

// SetSnapshot сохраняет снимок индикаторов и добавляет его в кольцо
// истории ограниченной глубины.
func (s *Store) SetSnapshot(snap models.IndicatorSnapshot) {
	shard := s.symbolShard(snap.Symbol)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.snapshots[snap.Symbol] = snap

	hist := append(shard.history[snap.Symbol], snap)
	if len(hist) > s.snapshotHistory {
		hist = hist[len(hist)-s.snapshotHistory:]
	}
	shard.history[snap.Symbol] = hist
}

// LatestSnapshot возвращает последний снимок индикаторов для символа.
func (s *Store) LatestSnapshot(symbol string) (models.IndicatorSnapshot, bool) {
	shard := s.symbolShard(symbol)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	snap, ok := shard.snapshots[symbol]
	return snap, ok
}

// SnapshotHistory возвращает копию кольца истории снимков,
// от старых к новым.
func (s *Store) SnapshotHistory(symbol string) []models.IndicatorSnapshot {
	shard := s.symbolShard(symbol)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	hist := shard.history[symbol]
	if len(hist) == 0 {
		return nil
	}
	out := make([]models.IndicatorSnapshot, len(hist))
	copy(out, hist)
	return out
}

// ============ Асинхронный сброс в warm-хранилище ============

// spillAsync отправляет вытесненные свечи в канал сброса.
// Никогда не блокирует: при переполнении канала свечи отбрасываются
// с предупреждением и счётчиком.
func (s *Store) spillAsync(bars []models.Bar) {
	if s.repo == nil {
		return
	}
	select {
	case s.spill <- bars:
	default:
		if s.logger != nil {
			s.logger.Warn("warm spill buffer full, dropping evicted bars",
				utils.Int("dropped", len(bars)))
		}
		SpillDropped.Add(float64(len(bars)))
	}
}

// spillWorker - фоновая горутина записи вытесненных свечей в Postgres.
func (s *Store) spillWorker() {
	defer s.spillWg.Done()

	for bars := range s.spill {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.repo.SaveWarmBars(ctx, bars)
		cancel()

		if err != nil {
			if s.logger != nil {
				s.logger.Warn("warm spill insert failed",
					utils.Int("bars", len(bars)),
					utils.Err(err))
			}
			SpillErrors.Inc()
			continue
		}
		SpilledBars.Add(float64(len(bars)))
	}
}

// Close останавливает фоновый сброс, дождавшись записи всего буфера.
func (s *Store) Close() {
	s.spillOnce.Do(func() {
		close(s.spill)
	})
	s.spillWg.Wait()
}
