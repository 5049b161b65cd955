// Package flintkv implements a LevelDB-format-compatible embedded
// ordered key-value store, including the Minecraft Bedrock Edition
// zlib-dialect on-disk variant.
//
// DB is the concurrent facade: every exported method locks an internal
// mutex, and a dedicated goroutine drives background compaction.
// SingleDB is the single-threaded facade: it owns its state directly,
// runs no background goroutine, and drives compaction inline after
// each write. Both wrap the same core (see db_public.go, single_db.go).
package flintkv

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/flintkv/flintkv/internal/batch"
	"github.com/flintkv/flintkv/internal/cache"
	"github.com/flintkv/flintkv/internal/compaction"
	"github.com/flintkv/flintkv/internal/compression"
	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/iterator"
	"github.com/flintkv/flintkv/internal/logging"
	"github.com/flintkv/flintkv/internal/manifest"
	"github.com/flintkv/flintkv/internal/memtable"
	"github.com/flintkv/flintkv/internal/table"
	"github.com/flintkv/flintkv/internal/version"
	"github.com/flintkv/flintkv/internal/wal"
	"github.com/flintkv/flintkv/vfs"
)

// L0 back-pressure thresholds from the write path (spec §4.7): at
// l0SoftLimit files a write sleeps briefly to let compaction catch up;
// at l0HardLimit it blocks until a compaction brings the count down.
const (
	l0SoftLimit = 8
	l0HardLimit = 12
)

const lockFileName = "LOCK"

// core holds every piece of state shared by DB and SingleDB. Exactly
// one of the two facades wraps a given core; its methods assume the
// caller (DB's locked wrappers, or SingleDB's single goroutine) has
// already arranged for exclusive access to mu-guarded fields.
type core struct {
	name string
	opts Options
	fs   vfs.FS
	cmp  Comparator

	logger       logging.Logger
	compRegistry *compression.Registry
	blockCache   cache.Cache

	versions   *version.VersionSet
	tableCache *table.TableCache
	picker     *compaction.Picker

	lock io.Closer

	mu      sync.Mutex
	immCond *sync.Cond

	mem *memtable.MemTable
	imm *memtable.MemTable

	walWriter     *wal.Writer
	walFile       vfs.WritableFile
	walNumber     uint64
	prevLogNumber uint64

	snapshots *snapshotList

	bgErr  error
	closed bool

	// background is non-nil only for the concurrent DB facade: a
	// signal channel the compactor goroutine waits on, plus a stop
	// channel and WaitGroup to shut it down on Close.
	background *backgroundWork
}

type backgroundWork struct {
	signal chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// setBackgroundError records err as the DB's first fatal error. Once
// set, every later Write fails with it (spec §7: corruption found
// during compaction with ParanoidChecks escalates here). REQUIRES:
// c.mu held.
func (c *core) setBackgroundError(err error) {
	if c.bgErr == nil && err != nil {
		c.bgErr = err
		c.logger.Errorf("%sbackground error: %v", logging.NSDB, err)
		if c.immCond != nil {
			c.immCond.Broadcast()
		}
	}
}

// fatalHandlerSetter is implemented by *logging.DefaultLogger; a
// custom Logger that doesn't implement it simply never feeds a Fatalf
// call into the DB's background-error state.
type fatalHandlerSetter interface {
	SetFatalHandler(logging.FatalHandler)
}

// openCore does everything Open and OpenSingle share: default Options,
// acquire the directory lock, build the VersionSet and table cache,
// recover or create the on-disk state, and replay any WAL left over
// from an unclean shutdown.
func openCore(dirname string, opts Options) (*core, error) {
	def := DefaultOptions()
	if opts.WriteBufferSize == 0 {
		opts.WriteBufferSize = def.WriteBufferSize
	}
	if opts.MaxOpenFiles == 0 {
		opts.MaxOpenFiles = def.MaxOpenFiles
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = def.BlockSize
	}
	if opts.BlockRestartInterval == 0 {
		opts.BlockRestartInterval = def.BlockRestartInterval
	}

	fs := vfs.Default()
	cmp := Comparator(BytewiseComparator{})
	if opts.Comparator != nil {
		cmp = opts.Comparator
	}
	logger := logging.OrDefault(opts.Logger)

	c := &core{
		name:         dirname,
		opts:         opts,
		fs:           fs,
		cmp:          cmp,
		logger:       logger,
		compRegistry: opts.CompressorRegistry,
		snapshots:    newSnapshotList(),
	}
	if c.compRegistry == nil {
		c.compRegistry = compression.NewRegistry(compression.DialectStandard)
	}
	c.immCond = sync.NewCond(&c.mu)

	if setter, ok := logger.(fatalHandlerSetter); ok {
		setter.SetFatalHandler(func(msg string) {
			c.mu.Lock()
			c.setBackgroundError(fmt.Errorf("%s: %w", msg, logging.ErrFatal))
			c.mu.Unlock()
		})
	}

	exists := fs.Exists(filepath.Join(dirname, "CURRENT"))
	if !exists {
		if !opts.CreateIfMissing {
			return nil, ErrNotFound
		}
		if err := fs.MkdirAll(dirname); err != nil {
			return nil, classifyIOError(err)
		}
	} else if opts.ErrorIfExists {
		return nil, ErrDBExists
	}

	lock, err := fs.Lock(filepath.Join(dirname, lockFileName))
	if err != nil {
		return nil, ErrAlreadyLocked
	}
	c.lock = lock

	c.blockCache = opts.blockCache()
	c.tableCache = table.NewTableCache(fs, table.TableCacheOptions{
		MaxOpenFiles:    opts.MaxOpenFiles,
		VerifyChecksums: true,
		BlockCache:      c.blockCache,
		Registry:        c.compRegistry,
	})

	c.picker = compaction.NewPicker(version.MaxNumLevels, uint64(opts.fileSizeLimit()))

	vsOpts := version.DefaultVersionSetOptions(dirname)
	vsOpts.FS = fs
	vsOpts.ComparatorName = cmp.Name()
	vsOpts.Logger = logger
	vsOpts.Finalizer = c.picker.Finalizer()
	c.versions = version.NewVersionSet(vsOpts)

	if exists {
		if err := c.versions.Recover(); err != nil {
			_ = lock.Close()
			return nil, fmt.Errorf("flintkv: recover manifest: %w", err)
		}
	} else {
		if err := c.versions.Create(); err != nil {
			_ = lock.Close()
			return nil, fmt.Errorf("flintkv: create manifest: %w", err)
		}
	}

	if err := c.recoverLogFiles(); err != nil {
		_ = c.versions.Close()
		_ = c.tableCache.Close()
		_ = lock.Close()
		return nil, err
	}

	if c.mem == nil {
		if err := c.openNewWAL(); err != nil {
			_ = c.versions.Close()
			_ = c.tableCache.Close()
			_ = lock.Close()
			return nil, err
		}
		c.mem = memtable.NewMemTable(cmp.Compare)
	}

	return c, nil
}

// recoverLogFiles replays every .log file at or above the VersionSet's
// recorded log number into a fresh memtable, flushing it to L0 when
// non-empty, per spec §4.9.
func (c *core) recoverLogFiles() error {
	children, err := c.fs.Children(c.name)
	if err != nil {
		return classifyIOError(err)
	}

	var logNumbers []uint64
	minLogNumber := c.versions.LogNumber()
	for _, name := range children {
		num, ok := parseNumberedFile(name, ".log")
		if ok && num >= minLogNumber {
			logNumbers = append(logNumbers, num)
		}
	}
	sort.Slice(logNumbers, func(i, j int) bool { return logNumbers[i] < logNumbers[j] })

	for i, num := range logNumbers {
		isLast := i == len(logNumbers)-1
		if err := c.recoverOneLog(num, isLast); err != nil {
			return err
		}
	}
	return nil
}

// recoverOneLog replays one log file into a fresh memtable. Every log
// but the most recent is always flushed to L0: it was rotated out
// because the memtable it fed was already full. The most recent log's
// memtable is flushed too, unless TryReuseMemtableLogs is set, in
// which case it becomes the active memtable and its log file is
// reopened for appending instead of being rotated away.
func (c *core) recoverOneLog(number uint64, isLast bool) error {
	path := filepath.Join(c.name, logFileName(number))
	f, err := c.fs.Open(path)
	if err != nil {
		return classifyIOError(err)
	}

	reporter := &corruptionReporter{logger: c.logger, onCorruption: c.opts.OnCorruption}
	reader := wal.NewReader(f, reporter, c.opts.ParanoidChecks)
	reader.SetLogger(c.logger)

	mem := memtable.NewMemTable(c.cmp.Compare)
	var maxSeq dbformat.SequenceNumber
	var sawAny bool

	for {
		record, rerr := reader.ReadRecord()
		if rerr != nil {
			break
		}
		wb, berr := batch.NewFromData(record)
		if berr != nil {
			reporter.Corruption(len(record), berr)
			continue
		}
		seq := dbformat.SequenceNumber(wb.Sequence())
		h := &memtableApplyHandler{mem: mem, seq: seq}
		if ierr := wb.Iterate(h); ierr != nil {
			reporter.Corruption(len(record), ierr)
			continue
		}
		sawAny = true
		if h.seq > 0 && h.seq-1 > maxSeq {
			maxSeq = h.seq - 1
		}
	}
	f.Close()

	if !sawAny {
		return nil
	}

	if maxSeq > dbformat.SequenceNumber(c.versions.LastSequence()) {
		c.versions.SetLastSequence(uint64(maxSeq))
	}

	if mem.Empty() {
		return nil
	}

	if isLast && c.opts.TryReuseMemtableLogs {
		wf, aerr := c.fs.OpenAppendable(path)
		if aerr == nil {
			c.walFile = wf
			c.walWriter = wal.NewWriter(wf)
			c.walNumber = number
			c.mem = mem
			return nil
		}
		c.logger.Warnf("%scould not reopen log %06d for reuse: %v", logging.NSRecovery, number, aerr)
	}

	if err := c.flushMemTableToL0(mem); err != nil {
		return fmt.Errorf("flintkv: recover log %06d: %w", number, err)
	}

	return nil
}

// memtableApplyHandler is a batch.Handler that inserts each record into
// mem with successive sequence numbers starting at seq.
type memtableApplyHandler struct {
	mem *memtable.MemTable
	seq dbformat.SequenceNumber
}

func (h *memtableApplyHandler) Put(key, value []byte) error {
	h.mem.Add(h.seq, dbformat.TypeValue, key, value)
	h.seq++
	return nil
}

func (h *memtableApplyHandler) Delete(key []byte) error {
	h.mem.Add(h.seq, dbformat.TypeDeletion, key, nil)
	h.seq++
	return nil
}

// openNewWAL rotates to a brand-new log file numbered above every file
// number the VersionSet has handed out so far, and records the
// rotation in the MANIFEST so recovery knows where to resume.
func (c *core) openNewWAL() error {
	num := c.versions.NextFileNumber()
	path := filepath.Join(c.name, logFileName(num))
	f, err := c.fs.Create(path)
	if err != nil {
		return classifyIOError(err)
	}
	if c.walFile != nil {
		_ = c.walFile.Close()
	}
	c.walFile = f
	c.walWriter = wal.NewWriter(f)
	c.prevLogNumber = c.walNumber
	c.walNumber = num

	edit := manifest.NewVersionEdit()
	edit.SetLogNumber(num)
	if err := c.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("flintkv: record new log number: %w", err)
	}
	return nil
}

// flushMemTableToL0 writes mem's contents to a new SST and installs it
// at L0 via a VersionEdit.
func (c *core) flushMemTableToL0(mem *memtable.MemTable) error {
	if mem.Empty() {
		return nil
	}

	fileNum := c.versions.NextFileNumber()
	path := filepath.Join(c.name, sstFileName(fileNum))
	f, err := c.fs.Create(path)
	if err != nil {
		return classifyIOError(err)
	}

	builder := table.NewTableBuilder(f, table.BuilderOptions{
		BlockSize:            c.opts.BlockSize,
		BlockRestartInterval: c.opts.BlockRestartInterval,
		ComparatorName:       c.cmp.Name(),
		FilterBitsPerKey:     filterBitsPerKey(c.opts),
		Compression:          c.opts.SelectedCompressorID,
		Registry:             c.compRegistry,
	})

	it := mem.NewIterator()
	var smallest, largest []byte
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := append([]byte{}, it.Key()...)
		if err := builder.Add(key, it.Value()); err != nil {
			_ = f.Close()
			return err
		}
		if smallest == nil {
			smallest = key
		}
		largest = key
	}
	if err := builder.Finish(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return classifyIOError(err)
	}
	if err := f.Close(); err != nil {
		return classifyIOError(err)
	}
	_ = c.fs.SyncDir(c.name)

	edit := manifest.NewVersionEdit()
	edit.AddFile(0, &manifest.FileMetaData{
		Number:   fileNum,
		FileSize: builder.FileSize(),
		Smallest: dbformat.InternalKey(smallest),
		Largest:  dbformat.InternalKey(largest),
	})
	return c.versions.LogAndApply(edit)
}

// get resolves key's most recent visible value as of seq, searching
// the memtable, the immutable memtable, then each level from L0
// (newest file first) to the bottom (disjoint, so one file per level
// can contain the key).
func (c *core) get(key []byte, seq dbformat.SequenceNumber) ([]byte, error) {
	c.mu.Lock()
	mem, imm := c.mem, c.imm
	if mem != nil {
		mem.Ref()
	}
	if imm != nil {
		imm.Ref()
	}
	v := c.versions.Current()
	if v != nil {
		v.Ref()
	}
	c.mu.Unlock()
	defer func() {
		if mem != nil {
			mem.Unref()
		}
		if imm != nil {
			imm.Unref()
		}
		if v != nil {
			v.Unref()
		}
	}()

	if mem != nil {
		if val, found, deleted := mem.Get(key, seq); found {
			if deleted {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}
	if imm != nil {
		if val, found, deleted := imm.Get(key, seq); found {
			if deleted {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}
	if v == nil {
		return nil, ErrNotFound
	}

	lookup := dbformat.NewLookupKey(key, seq)

	for _, f := range reversedFiles(v.Files(0)) {
		val, found, deleted, err := c.getFromFile(f, key, lookup)
		if err != nil {
			return nil, err
		}
		if found {
			c.maybeScheduleSeekCompaction(v, key)
			if deleted {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}

	for level := 1; level < v.NumLevels(); level++ {
		f := findFileForKey(v.Files(level), key, c.cmp)
		if f == nil {
			continue
		}
		val, found, deleted, err := c.getFromFile(f, key, lookup)
		if err != nil {
			return nil, err
		}
		if found {
			c.maybeScheduleSeekCompaction(v, key)
			if deleted {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}

	return nil, ErrNotFound
}

func (c *core) maybeScheduleSeekCompaction(v *version.Version, key []byte) {
	if v.RecordReadSample(key) {
		c.scheduleCompaction()
	}
}

// findFileForKey returns the one file at an L1+ (disjoint) level whose
// range could contain key, via binary search on each file's largest key.
func findFileForKey(files []*manifest.FileMetaData, key []byte, cmp Comparator) *manifest.FileMetaData {
	lo, hi := 0, len(files)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(dbformat.ExtractUserKey(files[mid].Largest), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(files) {
		return nil
	}
	f := files[lo]
	if cmp.Compare(key, dbformat.ExtractUserKey(f.Smallest)) < 0 {
		return nil
	}
	return f
}

func (c *core) getFromFile(f *manifest.FileMetaData, userKey []byte, lookup dbformat.InternalKey) (value []byte, found, deleted bool, err error) {
	path := filepath.Join(c.name, sstFileName(f.Number))
	reader, rerr := c.tableCache.Get(f.Number, path)
	if rerr != nil {
		return nil, false, false, classifyIOError(rerr)
	}
	defer c.tableCache.Release(f.Number)

	it := reader.NewIterator()
	it.Seek([]byte(lookup))
	if !it.Valid() {
		return nil, false, false, nil
	}
	parsed, perr := dbformat.ParseInternalKey(it.Key())
	if perr != nil {
		return nil, false, false, nil
	}
	if c.cmp.Compare(parsed.UserKey, userKey) != 0 {
		return nil, false, false, nil
	}
	if parsed.Type == dbformat.TypeDeletion {
		return nil, true, true, nil
	}
	return append([]byte{}, it.Value()...), true, false, nil
}

func reversedFiles(files []*manifest.FileMetaData) []*manifest.FileMetaData {
	out := make([]*manifest.FileMetaData, len(files))
	for i, f := range files {
		out[len(files)-1-i] = f
	}
	return out
}

// write assigns sequence numbers to wb's records, appends it to the
// WAL as one batch, inserts the records into the active memtable, and
// advances the VersionSet's last sequence. REQUIRES: c.mu held.
func (c *core) write(wb *batch.WriteBatch, wo WriteOptions) error {
	if c.closed {
		return ErrDBClosed
	}
	if c.bgErr != nil {
		return c.bgErr
	}

	c.applyWriteStall()
	if c.closed {
		return ErrDBClosed
	}
	if c.bgErr != nil {
		return c.bgErr
	}

	if err := c.makeRoomForWrite(); err != nil {
		return err
	}

	base := dbformat.SequenceNumber(c.versions.LastSequence()) + 1
	wb.SetSequence(uint64(base))

	if _, err := c.walWriter.AddRecord(wb.Data()); err != nil {
		werr := fmt.Errorf("flintkv: write WAL: %w", classifyIOError(err))
		c.setBackgroundError(werr)
		return werr
	}
	if wo.Sync {
		if err := c.walWriter.Sync(); err != nil {
			werr := fmt.Errorf("flintkv: sync WAL: %w", classifyIOError(err))
			c.setBackgroundError(werr)
			return werr
		}
	}

	h := &memtableApplyHandler{mem: c.mem, seq: base}
	if err := wb.Iterate(h); err != nil {
		werr := fmt.Errorf("%w: %v", ErrCorruption, err)
		c.setBackgroundError(werr)
		return werr
	}
	c.versions.SetLastSequence(uint64(h.seq - 1))

	c.scheduleCompaction()
	return nil
}

// applyWriteStall sleeps (soft limit) or blocks (hard limit) while L0
// has accumulated too many files, per spec §4.7. REQUIRES: c.mu held;
// released and re-acquired around any sleep/wait.
func (c *core) applyWriteStall() {
	for {
		if c.closed || c.bgErr != nil {
			return
		}
		v := c.versions.Current()
		n := 0
		if v != nil {
			n = v.NumFiles(0)
		}
		if n < l0HardLimit {
			if n >= l0SoftLimit {
				c.mu.Unlock()
				time.Sleep(time.Millisecond)
				c.mu.Lock()
			}
			return
		}
		c.scheduleCompaction()
		c.immCond.Wait()
	}
}

// makeRoomForWrite rotates the active memtable to immutable and starts
// a fresh WAL + memtable once the active memtable is full, waiting for
// any previous flush to finish first. REQUIRES: c.mu held.
func (c *core) makeRoomForWrite() error {
	for c.imm != nil {
		c.scheduleCompaction()
		c.immCond.Wait()
		if c.closed {
			return ErrDBClosed
		}
		if c.bgErr != nil {
			return c.bgErr
		}
	}

	if c.mem.ApproximateMemoryUsage() < int64(c.opts.WriteBufferSize) {
		return nil
	}

	c.imm = c.mem
	if err := c.openNewWAL(); err != nil {
		c.imm = nil
		return err
	}
	c.mem = memtable.NewMemTable(c.cmp.Compare)
	c.scheduleCompaction()
	return nil
}

// scheduleCompaction wakes the background compactor (DB) or is a
// no-op for SingleDB, which drains work synchronously after Write.
func (c *core) scheduleCompaction() {
	if c.background == nil {
		return
	}
	select {
	case c.background.signal <- struct{}{}:
	default:
	}
}

// doBackgroundWork performs one unit of background work: flushing the
// immutable memtable if one is pending, else picking and running the
// next eligible compaction. Returns true if it did something, so the
// caller can loop until there's nothing left to do.
func (c *core) doBackgroundWork() bool {
	c.mu.Lock()
	imm := c.imm
	c.mu.Unlock()

	if imm != nil {
		if err := c.flushMemTableToL0(imm); err != nil {
			c.mu.Lock()
			c.setBackgroundError(fmt.Errorf("flintkv: flush: %w", err))
			c.mu.Unlock()
			return false
		}
		c.mu.Lock()
		c.imm = nil
		c.immCond.Broadcast()
		c.mu.Unlock()
		return true
	}

	ran := c.runOneCompaction(-1, nil, nil)
	if ran {
		c.mu.Lock()
		c.immCond.Broadcast()
		c.mu.Unlock()
	}
	return ran
}

// runOneCompaction picks (manually, if manualLevel >= 0, else by
// size/seek score) and executes at most one compaction, installing its
// result via LogAndApply. Returns true if a compaction ran.
func (c *core) runOneCompaction(manualLevel int, begin, end []byte) bool {
	c.mu.Lock()
	v := c.versions.Current()
	if v == nil {
		c.mu.Unlock()
		return false
	}
	v.Ref()
	oldest := c.snapshots.oldestSequenceOr(dbformat.SequenceNumber(c.versions.LastSequence()))
	c.mu.Unlock()
	defer v.Unref()

	comp := c.picker.PickCompaction(v, c.versions, manualLevel, begin, end)
	if comp == nil {
		return false
	}

	comp.MarkFilesBeingCompacted(true)
	defer comp.MarkFilesBeingCompacted(false)
	comp.AddInputDeletions()

	job := compaction.NewJob(comp, v, c.name, c.fs, c.tableCache, c.versions.NextFileNumber, oldest)
	job.SetLogger(c.logger)

	if _, err := job.Run(); err != nil {
		if c.opts.ParanoidChecks {
			c.mu.Lock()
			c.setBackgroundError(fmt.Errorf("flintkv: compaction: %w", err))
			c.mu.Unlock()
		} else {
			c.logger.Warnf("%scompaction failed: %v", logging.NSCompact, err)
		}
		return false
	}

	if len(comp.LargestKey) > 0 {
		comp.Edit.SetCompactPointer(comp.StartLevel(), dbformat.InternalKey(comp.LargestKey))
	}

	c.mu.Lock()
	err := c.versions.LogAndApply(comp.Edit)
	if err != nil {
		c.setBackgroundError(fmt.Errorf("flintkv: install compaction: %w", err))
	}
	c.mu.Unlock()
	return err == nil
}

// drainBackgroundWork runs doBackgroundWork until it reports nothing
// left to do: used by SingleDB synchronously after each write, and by
// the DB compactor goroutine after each wakeup.
func (c *core) drainBackgroundWork() {
	for c.doBackgroundWork() {
	}
}

// compactRange forces a manual compaction over every level whose range
// overlaps [begin, end], per §4.6's manual-range priority.
func (c *core) compactRange(begin, end []byte) error {
	for level := 0; level < version.MaxNumLevels-1; level++ {
		for c.runOneCompaction(level, begin, end) {
		}
	}
	return c.backgroundError()
}

func (c *core) newSnapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots.add(dbformat.SequenceNumber(c.versions.LastSequence()))
}

func (c *core) releaseSnapshot(s *Snapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots.remove(s)
}

func (c *core) backgroundError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bgErr
}

func (c *core) getProperty(name string) (string, bool) {
	if lvl, ok := parseLevelProperty(name); ok {
		return strconv.Itoa(c.versions.NumLevelFiles(lvl)), true
	}
	if name == "flintkv.approximate-bytes" {
		var total uint64
		for level := 0; level < version.MaxNumLevels; level++ {
			total += c.versions.NumLevelBytes(level)
		}
		return strconv.FormatUint(total, 10), true
	}
	return "", false
}

// newIterator composes a merging iterator over the memtable(s) and
// every live SST as of seq; the caller wraps it with sequence/tombstone
// filtering (see iterator.go's dbIterator).
func (c *core) newIterator(seq dbformat.SequenceNumber) *dbIterator {
	c.mu.Lock()
	mem, imm := c.mem, c.imm
	if mem != nil {
		mem.Ref()
	}
	if imm != nil {
		imm.Ref()
	}
	v := c.versions.Current()
	if v != nil {
		v.Ref()
	}
	c.mu.Unlock()

	var children []iterator.Iterator
	var releases []func()

	if mem != nil {
		children = append(children, mem.NewIterator())
		releases = append(releases, func() { mem.Unref() })
	}
	if imm != nil {
		children = append(children, imm.NewIterator())
		releases = append(releases, func() { imm.Unref() })
	}

	if v != nil {
		for level := 0; level < v.NumLevels(); level++ {
			for _, f := range v.Files(level) {
				path := filepath.Join(c.name, sstFileName(f.Number))
				reader, err := c.tableCache.Get(f.Number, path)
				if err != nil {
					continue
				}
				fileNum := f.Number
				children = append(children, reader.NewIterator())
				releases = append(releases, func() { c.tableCache.Release(fileNum) })
			}
		}
		releases = append(releases, func() { v.Unref() })
	}

	merged := iterator.NewMergingIterator(children, dbformat.CompareInternalKeys)
	return &dbIterator{
		merged: merged,
		seq:    seq,
		cmp:    c.cmp,
		release: func() {
			for _, r := range releases {
				r()
			}
		},
	}
}

func classifyIOError(err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case vfs.ErrNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case vfs.ErrAlreadyLocked:
		return ErrAlreadyLocked
	case vfs.ErrInterrupted:
		return ErrInterrupted
	default:
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
}

func filterBitsPerKey(o Options) int {
	if o.FilterPolicy == nil {
		return 0
	}
	if bp, ok := o.FilterPolicy.(interface{ BitsPerKey() int }); ok {
		return bp.BitsPerKey()
	}
	return 10
}

func parseLevelProperty(name string) (int, bool) {
	const prefix = "flintkv.num-files-at-level"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func logFileName(number uint64) string {
	return fmt.Sprintf("%06d.log", number)
}

func sstFileName(number uint64) string {
	return fmt.Sprintf("%06d.sst", number)
}

// parseNumberedFile extracts the file number from a name of the form
// "<number><suffix>", e.g. "000007.log".
func parseNumberedFile(name, suffix string) (uint64, bool) {
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return 0, false
	}
	numStr := name[:len(name)-len(suffix)]
	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return num, true
}

// corruptionReporter adapts wal.Reader's Reporter callback to this
// package's ErrCorruption classification and Options.OnCorruption hook.
type corruptionReporter struct {
	logger       logging.Logger
	onCorruption func(err error)
}

func (r *corruptionReporter) Corruption(bytes int, err error) {
	cerr := fmt.Errorf("%w: %d bytes: %v", ErrCorruption, bytes, err)
	r.logger.Warnf("%s%v", logging.NSRecovery, cerr)
	if r.onCorruption != nil {
		func() {
			defer func() { recover() }()
			r.onCorruption(cerr)
		}()
	}
}
