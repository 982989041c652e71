// Package orchestrator ties the registry, splitter, embedder, and
// store packages into the five operations callers actually invoke:
// IndexCodebase, ReindexByChange, SemanticSearch, HasIndex, and
// ClearIndex. It owns no persistent state of its own beyond an
// in-memory per-codebase lock table and a small store cache; every
// durable fact lives in the registry's path-mappings file, a
// codebase's SQLite store, or its Merkle snapshot.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tan-yong-sheng/code-context/internal/embedder"
	"github.com/tan-yong-sheng/code-context/internal/ignore"
	"github.com/tan-yong-sheng/code-context/internal/registry"
	"github.com/tan-yong-sheng/code-context/internal/splitter"
	"github.com/tan-yong-sheng/code-context/internal/splitter/languages"
	"github.com/tan-yong-sheng/code-context/internal/store"
	"github.com/tan-yong-sheng/code-context/internal/syncer"
	"github.com/tan-yong-sheng/code-context/pkg/types"
)

// DefaultBatchSize is the number of chunks embedded and upserted per
// round trip unless SetBatchSize overrides it.
const DefaultBatchSize = 100

// DefaultHardCap bounds the total number of chunks a single codebase
// may hold, protecting the store and the embedding budget from a
// runaway indexing run over an unexpectedly large tree.
const DefaultHardCap = 450000

// approxCharsPerToken converts a provider's MaxInputTokens into a
// character budget. There is no tokenizer in this tree, so this is a
// deliberately conservative estimate (real BPE tokenizers average
// nearer 4 chars/token for English text and code; erring low means we
// truncate slightly earlier than strictly necessary rather than risk
// submitting an oversize chunk).
const approxCharsPerToken = 3

// Orchestrator composes the engine's components and exposes the
// operations a caller drives a codebase through. Its option setters
// take effect on operations started after they return; an operation
// already in progress keeps using the configuration it started with.
type Orchestrator struct {
	reg *registry.Registry
	log *slog.Logger

	mu         sync.Mutex
	emb        embedder.Embedder
	splitOpts  splitter.Options
	ignoreOpts ignore.Options
	mode       types.CollectionMode
	batchSize  int
	hardCap    int

	splitReg *splitter.Registry

	locks *locks

	storesMu sync.Mutex
	stores   map[string]store.Store
}

// New builds an Orchestrator rooted at reg. If emb is nil, the
// embedder is resolved lazily from the environment on first use
// (embedder.NewFromEnv).
func New(reg *registry.Registry, emb embedder.Embedder, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	splitReg := splitter.NewRegistry()
	languages.RegisterAll(splitReg)

	return &Orchestrator{
		reg:       reg,
		log:       log,
		emb:       emb,
		mode:      types.ModeHybrid,
		batchSize: DefaultBatchSize,
		hardCap:   DefaultHardCap,
		splitReg:  splitReg,
		locks:     newLocks(),
		stores:    make(map[string]store.Store),
	}
}

// SetEmbedder replaces the embedding provider used by operations
// started after this call returns.
func (o *Orchestrator) SetEmbedder(emb embedder.Embedder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emb = emb
}

// SetSplitterOptions overrides the chunk budget and overlap.
func (o *Orchestrator) SetSplitterOptions(opts splitter.Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.splitOpts = opts
}

// SetIgnoreOptions overrides the custom ignore patterns and extension
// allowlist applied to subsequent walks.
func (o *Orchestrator) SetIgnoreOptions(opts ignore.Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ignoreOpts = opts
}

// SetMode overrides the collection mode new collections are created
// with. It has no effect on a codebase already indexed; changing mode
// for an existing codebase requires ClearIndex followed by
// IndexCodebase.
func (o *Orchestrator) SetMode(mode types.CollectionMode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode = mode
}

// SetBatchSize overrides the number of chunks embedded and upserted
// per batch. Values <= 0 are ignored.
func (o *Orchestrator) SetBatchSize(n int) {
	if n <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batchSize = n
}

// SetHardCap overrides the maximum number of chunks a codebase may
// hold. Values <= 0 are ignored.
func (o *Orchestrator) SetHardCap(n int) {
	if n <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hardCap = n
}

func (o *Orchestrator) snapshot() (embedder.Embedder, splitter.Options, ignore.Options, types.CollectionMode, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emb, o.splitOpts, o.ignoreOpts, o.mode, o.batchSize, o.hardCap
}

func (o *Orchestrator) resolveEmbedder() (embedder.Embedder, error) {
	emb, _, _, _, _, _ := o.snapshot()
	if emb != nil {
		return emb, nil
	}
	resolved, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: resolve embedder: %v", types.ErrConfig, err)
	}
	o.mu.Lock()
	if o.emb == nil {
		o.emb = resolved
	} else {
		resolved = o.emb
	}
	o.mu.Unlock()
	return resolved, nil
}

// storeFor returns the cached Store for id, opening it if this is the
// first use in this Orchestrator's lifetime.
func (o *Orchestrator) storeFor(id, dbPath string) (store.Store, error) {
	o.storesMu.Lock()
	defer o.storesMu.Unlock()
	if s, ok := o.stores[id]; ok {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create vectors directory: %v", types.ErrStore, err)
	}
	s, err := store.Open(dbPath, o.log)
	if err != nil {
		return nil, err
	}
	o.stores[id] = s
	return s, nil
}

// forget drops id from the store cache and closes its connection,
// used by ClearIndex so a subsequent IndexCodebase reopens a fresh
// file rather than reusing a handle to a dropped collection.
func (o *Orchestrator) forget(id string) {
	o.storesMu.Lock()
	defer o.storesMu.Unlock()
	if s, ok := o.stores[id]; ok {
		_ = s.Close()
		delete(o.stores, id)
	}
}

// HasIndex reports whether path's store has a collection (its chunk
// table exists), whether or not any chunk rows are in it.
func (o *Orchestrator) HasIndex(ctx context.Context, path string) (bool, error) {
	id, err := registry.IDFor(path)
	if err != nil {
		return false, err
	}
	dbPath, err := o.reg.DBPathFor(path)
	if err != nil {
		return false, err
	}
	s, err := o.storeFor(id, dbPath)
	if err != nil {
		return false, err
	}
	return s.HasCollection(ctx)
}

// ClearIndex drops path's collection and snapshot, returning the
// codebase to its never-indexed state.
func (o *Orchestrator) ClearIndex(ctx context.Context, path string) error {
	id, err := registry.IDFor(path)
	if err != nil {
		return err
	}
	if !o.locks.tryAcquire(id) {
		return fmt.Errorf("%w: ClearIndex %s", types.ErrBusy, path)
	}
	defer o.locks.release(id)

	dbPath, err := o.reg.DBPathFor(path)
	if err != nil {
		return err
	}
	s, err := o.storeFor(id, dbPath)
	if err != nil {
		return err
	}
	if err := s.DropCollection(ctx); err != nil {
		return err
	}
	o.forget(id)

	snapPath, err := o.reg.SnapshotPathFor(path)
	if err != nil {
		return err
	}
	return syncer.SaveSnapshot(snapPath, syncer.NewTree(nil))
}

// prepareCollection ensures path's store has a collection matching the
// current embedder's dimension and mode, creating one if force is set
// or none exists, and failing on a dimension mismatch otherwise.
func (o *Orchestrator) prepareCollection(ctx context.Context, s store.Store, emb embedder.Embedder, mode types.CollectionMode, force bool) error {
	dim := emb.Dimension()
	if dim <= 0 {
		return fmt.Errorf("%w: embedder reports non-positive dimension", types.ErrConfig)
	}

	has, err := s.HasCollection(ctx)
	if err != nil {
		return err
	}
	if !has || force {
		return s.CreateCollection(ctx, dim, mode)
	}

	ss, ok := s.(*store.SQLiteStore)
	if !ok {
		return nil
	}
	if ss.Dimension() != dim {
		return fmt.Errorf("%w: %w: collection has dimension %d, embedder produces %d", types.ErrConfig, types.ErrDimensionMismatch, ss.Dimension(), dim)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func report(cb types.ProgressFunc, phase types.ProgressPhase, current, total int) {
	if cb == nil {
		return
	}
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	defer func() { _ = recover() }()
	cb(types.Progress{Phase: phase, Current: current, Total: total, Percentage: pct})
}

// embedResult reports how far embedAndUpsert got. completed lists the
// files whose chunks were all embedded and upserted before the run
// stopped (whether it ran to completion, hit hardCap, or was
// cancelled); a caller building a Merkle snapshot after a short run
// must restrict it to these files, not the full walk, or a file whose
// chunks never made it to the store would be wrongly recorded as
// indexed.
type embedResult struct {
	total     int
	capped    bool
	cancelled bool
	completed []syncer.File
}

// embedAndUpsert splits the given files into chunks, embeds and
// upserts them in batches of batchSize. It stops early and reports
// capped=true once the codebase's chunk count would exceed hardCap,
// and checks ctx at every batch boundary (and between files), stopping
// with cancelled=true on the first cancellation observed so a caller
// can still persist a partial snapshot instead of losing the run's
// progress entirely.
func (o *Orchestrator) embedAndUpsert(
	ctx context.Context,
	s store.Store,
	spl *splitter.Splitter,
	emb embedder.Embedder,
	files []syncer.File,
	batchSize, hardCap, existing int,
	cb types.ProgressFunc,
) (embedResult, error) {
	res := embedResult{total: existing}
	maxChars := emb.MaxInputTokens() * approxCharsPerToken

	var pending []types.Chunk
	var pendingFiles []syncer.File
	filesSeen := 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		texts := make([]string, len(pending))
		for i, c := range pending {
			text := c.Content
			if maxChars > 0 && len(text) > maxChars {
				text = embedder.Truncate(text, maxChars)
			}
			texts[i] = text
		}
		embeddings, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrEmbedding, err)
		}
		if len(embeddings) != len(pending) {
			return fmt.Errorf("%w: embedder returned %d vectors for %d texts", types.ErrEmbedding, len(embeddings), len(pending))
		}
		for i := range pending {
			pending[i].Vector = embeddings[i].Vector
		}
		report(cb, types.PhaseEmbedding, filesSeen, len(files))
		if err := s.Upsert(ctx, pending); err != nil {
			return err
		}
		report(cb, types.PhaseUpserting, filesSeen, len(files))
		pending = pending[:0]
		res.completed = append(res.completed, pendingFiles...)
		pendingFiles = pendingFiles[:0]
		return nil
	}

	report(cb, types.PhaseWalking, 0, len(files))
	for i, f := range files {
		if ctx.Err() != nil {
			res.cancelled = true
			break
		}
		filesSeen = i + 1
		report(cb, types.PhaseSplitting, filesSeen, len(files))
		content, err := readFile(f.AbsolutePath)
		if err != nil {
			return res, err
		}
		if len(content) == 0 {
			res.completed = append(res.completed, f)
			continue
		}
		chunks, err := spl.Split(f.RelativePath, content)
		if err != nil {
			return res, err
		}
		fileComplete := true
		for _, c := range chunks {
			if res.total+1 > hardCap {
				res.capped = true
				fileComplete = false
				break
			}
			pending = append(pending, c)
			res.total++
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return res, err
				}
				if ctx.Err() != nil {
					res.cancelled = true
					fileComplete = false
					break
				}
			}
		}
		if fileComplete {
			pendingFiles = append(pendingFiles, f)
		}
		if res.capped || res.cancelled {
			break
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// IndexCodebase performs a full index of path: walk, split, embed, and
// upsert every matched file, then persist a Merkle snapshot. force
// recreates the collection even if one already exists (e.g. after an
// embedder or mode change). If the run is cancelled or hits hardCap
// partway through, the snapshot records only the files whose chunks
// were fully embedded and upserted; everything else is picked back up
// as new on the next run.
func (o *Orchestrator) IndexCodebase(ctx context.Context, path string, force bool, cb types.ProgressFunc) (types.IndexResult, error) {
	var result types.IndexResult

	id, err := registry.IDFor(path)
	if err != nil {
		return result, err
	}
	if !o.locks.tryAcquire(id) {
		return result, fmt.Errorf("%w: IndexCodebase %s", types.ErrBusy, path)
	}
	defer o.locks.release(id)

	emb, splitOpts, ignoreOpts, mode, batchSize, hardCap := o.snapshot()
	emb, err = o.coalesceEmbedder(emb)
	if err != nil {
		return result, err
	}

	dbPath, err := o.reg.DBPathFor(path)
	if err != nil {
		return result, err
	}
	s, err := o.storeFor(id, dbPath)
	if err != nil {
		return result, err
	}
	if err := o.prepareCollection(ctx, s, emb, mode, force); err != nil {
		return result, err
	}

	matcher, err := ignore.New(path, ignoreOpts)
	if err != nil {
		return result, err
	}
	_, files, err := syncer.BuildTree(path, matcher)
	if err != nil {
		return result, err
	}

	spl := splitter.New(o.splitReg, splitOpts)
	res, err := o.embedAndUpsert(ctx, s, spl, emb, files, batchSize, hardCap, 0, cb)
	if err != nil {
		return result, err
	}

	snapPath, err := o.reg.SnapshotPathFor(path)
	if err != nil {
		return result, err
	}
	hashes := make(map[string]string, len(res.completed))
	for _, f := range res.completed {
		hashes[f.RelativePath] = f.Hash
	}
	if err := syncer.SaveSnapshot(snapPath, syncer.NewTree(hashes)); err != nil {
		return result, err
	}

	result.IndexedFiles = len(res.completed)
	result.TotalChunks = res.total
	if res.capped || res.cancelled {
		result.Status = types.StatusLimitReached
	} else {
		result.Status = types.StatusCompleted
	}
	// A cancelled context is reported as a clean, partial result
	// rather than an error: the snapshot above already reflects
	// exactly what made it into the store, so the caller can retry
	// with IndexCodebase or ReindexByChange and pick up the rest.
	return result, nil
}

func (o *Orchestrator) coalesceEmbedder(emb embedder.Embedder) (embedder.Embedder, error) {
	if emb != nil {
		return emb, nil
	}
	return o.resolveEmbedder()
}

// ReindexByChange diffs path's current file tree against its last
// snapshot, re-chunking and re-embedding only the files that changed,
// and deleting chunks for files that were removed. If the run is
// cancelled or hits hardCap partway through, the snapshot advances
// only the files whose chunks were fully embedded and upserted; any
// added or modified file not yet processed is left to be picked up
// again on the next call.
func (o *Orchestrator) ReindexByChange(ctx context.Context, path string, cb types.ProgressFunc) (types.ReindexResult, error) {
	var result types.ReindexResult

	id, err := registry.IDFor(path)
	if err != nil {
		return result, err
	}
	if !o.locks.tryAcquire(id) {
		return result, fmt.Errorf("%w: ReindexByChange %s", types.ErrBusy, path)
	}
	defer o.locks.release(id)

	emb, splitOpts, ignoreOpts, mode, batchSize, hardCap := o.snapshot()
	emb, err = o.coalesceEmbedder(emb)
	if err != nil {
		return result, err
	}

	dbPath, err := o.reg.DBPathFor(path)
	if err != nil {
		return result, err
	}
	s, err := o.storeFor(id, dbPath)
	if err != nil {
		return result, err
	}
	if err := o.prepareCollection(ctx, s, emb, mode, false); err != nil {
		return result, err
	}

	snapPath, err := o.reg.SnapshotPathFor(path)
	if err != nil {
		return result, err
	}
	prev, err := syncer.LoadSnapshot(snapPath)
	if err != nil {
		return result, err
	}

	matcher, err := ignore.New(path, ignoreOpts)
	if err != nil {
		return result, err
	}
	curr, files, err := syncer.BuildTree(path, matcher)
	if err != nil {
		return result, err
	}
	diff := syncer.DiffTrees(prev, curr)
	if diff.IsEmpty() {
		return result, syncer.SaveSnapshot(snapPath, curr)
	}

	byRel := make(map[string]syncer.File, len(files))
	for _, f := range files {
		byRel[f.RelativePath] = f
	}

	removedOrModified := append(append([]string{}, diff.Removed...), diff.Modified...)
	if len(removedOrModified) > 0 {
		chunks, err := s.Query(ctx, "", 0)
		if err != nil {
			return result, err
		}
		var toDelete []string
		modified := make(map[string]bool, len(diff.Modified))
		for _, p := range diff.Modified {
			modified[p] = true
		}
		removed := make(map[string]bool, len(diff.Removed))
		for _, p := range diff.Removed {
			removed[p] = true
		}
		for _, c := range chunks {
			if modified[c.RelativePath] || removed[c.RelativePath] {
				toDelete = append(toDelete, c.ID)
			}
		}
		if err := s.Delete(ctx, toDelete); err != nil {
			return result, err
		}
	}

	var toEmbed []syncer.File
	for _, p := range append(append([]string{}, diff.Added...), diff.Modified...) {
		if f, ok := byRel[p]; ok {
			toEmbed = append(toEmbed, f)
		}
	}

	existing := 0
	if chunks, err := s.Query(ctx, "", 0); err == nil {
		existing = len(chunks)
	}

	spl := splitter.New(o.splitReg, splitOpts)
	res, err := o.embedAndUpsert(ctx, s, spl, emb, toEmbed, batchSize, hardCap, existing, cb)
	if err != nil {
		return result, err
	}

	hashes := make(map[string]string, len(curr.FileHashes))
	if prev != nil {
		for p, h := range prev.FileHashes {
			hashes[p] = h
		}
	}
	for _, p := range diff.Removed {
		delete(hashes, p)
	}
	completed := make(map[string]bool, len(res.completed))
	for _, f := range res.completed {
		completed[f.RelativePath] = true
	}
	for _, p := range append(append([]string{}, diff.Added...), diff.Modified...) {
		if !completed[p] {
			// Not yet embedded: leave its prior hash in place (or
			// absent, for a newly added file) so the next diff sees
			// it as still changed and retries it.
			continue
		}
		if f, ok := byRel[p]; ok {
			hashes[p] = f.Hash
		}
	}
	if err := syncer.SaveSnapshot(snapPath, syncer.NewTree(hashes)); err != nil {
		return result, err
	}

	result.Added = len(diff.Added)
	result.Removed = len(diff.Removed)
	result.Modified = len(diff.Modified)
	return result, nil
}

// SemanticSearch embeds query and returns the topK chunks from path's
// collection with a similarity score at or above threshold, using
// hybrid search when the collection supports it.
func (o *Orchestrator) SemanticSearch(ctx context.Context, path, query string, topK int, threshold float64, filterExpr string) ([]types.SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}

	id, err := registry.IDFor(path)
	if err != nil {
		return nil, err
	}
	dbPath, err := o.reg.DBPathFor(path)
	if err != nil {
		return nil, err
	}
	s, err := o.storeFor(id, dbPath)
	if err != nil {
		return nil, err
	}
	has, err := s.HasCollection(ctx)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", types.ErrNotIndexed, path)
	}

	emb, err := o.resolveEmbedder()
	if err != nil {
		return nil, err
	}
	embeddings, err := emb.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for 1 query", types.ErrEmbedding, len(embeddings))
	}
	vec := embeddings[0].Vector

	results, err := s.HybridSearch(ctx, vec, query, topK, filterExpr)
	if err != nil {
		return nil, err
	}

	// Ranking order (dense distance in dense-only mode, RRF fusion
	// score in hybrid mode) comes pre-sorted from the store. The score
	// surfaced to the caller is always cosine similarity in [0,1], not
	// the RRF rank strength, so a threshold means the same thing in
	// either mode.
	hits := make([]types.SearchHit, 0, len(results))
	for _, r := range results {
		score := 1 - r.Distance
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		if score < threshold {
			continue
		}
		hits = append(hits, types.SearchHit{
			Content:      r.Chunk.Content,
			RelativePath: r.Chunk.RelativePath,
			StartLine:    r.Chunk.StartLine,
			EndLine:      r.Chunk.EndLine,
			Language:     r.Chunk.Language,
			Score:        score,
		})
	}
	return hits, nil
}

// Close releases every cached store handle. Call it once when the
// Orchestrator is no longer needed.
func (o *Orchestrator) Close() error {
	o.storesMu.Lock()
	defer o.storesMu.Unlock()
	var g errgroup.Group
	for _, s := range o.stores {
		s := s
		g.Go(s.Close)
	}
	o.stores = make(map[string]store.Store)
	return g.Wait()
}
