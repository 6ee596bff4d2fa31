package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/source"
	"golang.org/x/sync/errgroup"
)

// RecordStore persists datasource records. Update is atomic per record.
type RecordStore interface {
	Create(ctx context.Context, rec *domain.Record) error
	Update(ctx context.Context, rec *domain.Record) error
	GetByID(ctx context.Context, id string) (*domain.Record, error)
	FindByJobID(ctx context.Context, jobID string) (*domain.Record, error)
	FindAll(ctx context.Context, status domain.RecordStatus) ([]domain.Record, error)
}

// FinetuneLookup resolves a fine-tune provider by key.
type FinetuneLookup interface {
	Get(key string) (FinetuneProvider, error)
}

// OrchestratorConfig tunes the embeddings flow and names the defaults.
type OrchestratorConfig struct {
	EmbeddingBatchSize   int
	EmbeddingConcurrency int
	VectorStore          string // default store key
	WebhookURL           string // our public fine-tune callback, passed to providers

	// LocalRoots are the directories file:// urls may point into. Empty
	// means local files are refused.
	LocalRoots []string
}

// IngestRequest is a new datasource.
type IngestRequest struct {
	Type           string `json:"type" binding:"required"`
	BaseModel      string `json:"base_model" binding:"required"`
	Provider       string `json:"provider" binding:"required"`
	URL            string `json:"url,omitempty"`
	Content        string `json:"content,omitempty"`
	WebhookURL     string `json:"webhook_url,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// Orchestrator runs the two flows of an ingested record: embeddings into
// the vector store, and dataset synthesis into a fine-tune job. The flows
// share nothing but the record id.
type Orchestrator struct {
	records    RecordStore
	chunks     source.ChunkSource
	embeddings *EmbeddingRegistry
	stores     *VectorStoreFactory
	finetuners FinetuneLookup
	notifier   *Notifier
	dispatcher *Dispatcher
	cfg        OrchestratorConfig
}

// NewOrchestrator wires an orchestrator. notifier may be nil.
func NewOrchestrator(
	records RecordStore,
	chunks source.ChunkSource,
	embeddings *EmbeddingRegistry,
	stores *VectorStoreFactory,
	finetuners FinetuneLookup,
	notifier *Notifier,
	dispatcher *Dispatcher,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 32
	}
	if cfg.EmbeddingConcurrency <= 0 {
		cfg.EmbeddingConcurrency = 4
	}
	if cfg.VectorStore == "" {
		cfg.VectorStore = VectorStoreMemory
	}
	return &Orchestrator{
		records:    records,
		chunks:     chunks,
		embeddings: embeddings,
		stores:     stores,
		finetuners: finetuners,
		notifier:   notifier,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Ingest validates req, stores a PENDING record and starts both flows in
// the background. It returns as soon as the record exists.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*domain.Record, error) {
	rec, err := o.newRecord(req)
	if err != nil {
		return nil, err
	}
	if err := o.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	ctx = logger.SetRecordID(ctx, rec.ID)

	logger.With(logger.Fields{
		logger.FieldProvider: string(rec.Provider),
		"type":               string(rec.Type),
		"base_model":         string(rec.BaseModel),
	}).Info(ctx, "Datasource ingested")

	// each flow gets its own copy
	embedRec, tuneRec := rec.Clone(), rec.Clone()
	if err := o.dispatcher.Submit(ctx, FlowEmbeddings, rec.ID, func(ctx context.Context) error {
		_, err := o.BuildEmbeddings(ctx, embedRec)
		return err
	}); err != nil {
		o.markFailed(ctx, rec, err)
		return rec, err
	}
	// the fine-tune flow owns the record's status, so without it the record
	// would stay PENDING forever
	if err := o.dispatcher.Submit(ctx, FlowFinetune, rec.ID, func(ctx context.Context) error {
		_, err := o.BuildFinetune(ctx, tuneRec)
		return err
	}); err != nil {
		o.markFailed(ctx, rec, err)
		return rec, err
	}
	return rec, nil
}

func (o *Orchestrator) newRecord(req IngestRequest) (*domain.Record, error) {
	ingestType, err := domain.ParseIngestType(req.Type)
	if err != nil {
		return nil, err
	}

	provider := domain.ParseFinetuneProvider(req.Provider)
	if _, err := o.finetuners.Get(string(provider)); err != nil {
		return nil, err
	}
	baseModel := domain.BaseModel(strings.ToUpper(strings.TrimSpace(req.BaseModel)))
	if !SupportsBaseModel(provider, baseModel) {
		return nil, &domain.ConfigurationError{Key: req.BaseModel, Kind: domain.ErrUnsupportedModel,
			Detail: fmt.Sprintf("not available on %s", provider)}
	}

	_, embCfg, err := o.embeddings.Get(req.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	rec := &domain.Record{
		ID:             uuid.NewString(),
		Type:           ingestType,
		URL:            strings.TrimSpace(req.URL),
		Content:        req.Content,
		Provider:       provider,
		BaseModel:      baseModel,
		EmbeddingModel: embCfg.Name,
		Status:         domain.RecordStatusPending,
		WebhookURL:     req.WebhookURL,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.URL != "" {
		if err := source.CheckURL(rec.URL, o.cfg.LocalRoots); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// BuildEmbeddings embeds every non-empty chunk of rec and upserts them into
// the record's namespace with a single write. It never changes the record.
func (o *Orchestrator) BuildEmbeddings(ctx context.Context, rec *domain.Record) (int, error) {
	start := time.Now()
	ctx = logger.SetFlow(logger.SetRecordID(ctx, rec.ID), FlowEmbeddings)

	provider, embCfg, err := o.embeddings.Get(rec.EmbeddingModel)
	if err != nil {
		return 0, err
	}
	store, err := o.stores.Get(ctx, o.cfg.VectorStore, embCfg)
	if err != nil {
		return 0, err
	}

	chunks, err := o.chunks.Chunks(ctx, rec)
	if err != nil {
		return 0, err
	}
	work := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !c.IsEmpty() {
			work = append(work, c)
		}
	}
	if len(work) == 0 {
		logger.CtxWarn(ctx, "No chunks to embed")
		return 0, nil
	}

	// entries is indexed by position in work, so batches fill disjoint slots
	entries := make([]domain.EmbeddingEntry, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EmbeddingConcurrency)

	batches := 0
	for begin := 0; begin < len(work); begin += o.cfg.EmbeddingBatchSize {
		end := begin + o.cfg.EmbeddingBatchSize
		if end > len(work) {
			end = len(work)
		}
		batch := work[begin:end]
		offset := begin
		batches++

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := provider.Embed(gctx, prepareEmbeddingTexts(texts))
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i, c := range batch {
				meta := make(map[string]interface{}, len(c.Metadata)+1)
				for k, v := range c.Metadata {
					meta[k] = v
				}
				meta[domain.MetaContent] = c.Text
				entries[offset+i] = domain.EmbeddingEntry{ID: c.ID, Vector: vectors[i], Metadata: meta}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.CtxError(ctx, "Embedding failed, nothing written: %v", err)
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	if err := store.Upsert(ctx, rec.ID, entries); err != nil {
		logger.CtxError(ctx, "Vector upsert failed: %v", err)
		return 0, fmt.Errorf("failed to upsert embeddings: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldCount:      len(entries),
		logger.FieldBatch:      batches,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"index":                embCfg.GetIndex(),
	}).Info(ctx, "Embeddings stored")

	return len(entries), nil
}

// BuildFinetune synthesizes, validates and submits a training dataset for
// rec, then persists the job on the record. Any failure marks the record
// FAILED. The artifact is removed on every path, panics included.
func (o *Orchestrator) BuildFinetune(ctx context.Context, rec *domain.Record) (job *domain.FinetuneJob, err error) {
	start := time.Now()
	ctx = logger.SetFlow(logger.SetRecordID(ctx, rec.ID), FlowFinetune)

	provider, err := o.finetuners.Get(string(rec.Provider))
	if err != nil {
		o.markFailed(ctx, rec, err)
		return nil, err
	}

	var artifact string
	defer func() {
		if cerr := provider.Cleanup(artifact); cerr != nil {
			logger.CtxWarn(ctx, "Failed to clean up dataset artifact: %v", cerr)
		}
		if p := recover(); p != nil {
			o.markFailed(ctx, rec, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	chunks, err := o.chunks.Chunks(ctx, rec)
	if err != nil {
		o.markFailed(ctx, rec, err)
		return nil, err
	}

	artifact, err = provider.GenerateDataset(ctx, chunks)
	if err != nil {
		o.markFailed(ctx, rec, err)
		return nil, fmt.Errorf("failed to generate dataset: %w", err)
	}

	if artifact, err = provider.ValidateDataset(ctx, artifact); err != nil {
		o.markFailed(ctx, rec, err)
		return nil, fmt.Errorf("failed to validate dataset: %w", err)
	}

	job, err = provider.Finetune(ctx, artifact, rec.BaseModel, o.cfg.WebhookURL)
	if err != nil {
		o.markFailed(ctx, rec, err)
		return nil, fmt.Errorf("failed to start fine-tune: %w", err)
	}
	ctx = logger.SetJobID(ctx, job.ID)

	if err := rec.AttachJob(job.ToJSONMap()); err != nil {
		o.markFailed(ctx, rec, err)
		return nil, err
	}
	if provider.Synchronous() && job.Status.IsTerminal() {
		if err := rec.Transition(job.Status.RecordStatus()); err != nil {
			o.markFailed(ctx, rec, err)
			return nil, err
		}
	}
	if err := o.records.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldProvider:   string(provider.Name()),
		logger.FieldStatus:     string(rec.Status),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Fine-tune job submitted")

	if rec.WebhookURL != "" && o.notifier != nil {
		if nerr := o.notifier.Notify(ctx, rec.WebhookURL, job.ToJSONMap()); nerr != nil {
			logger.CtxWarn(ctx, "Failed to notify caller webhook: %v", nerr)
		}
	}
	return job, nil
}

// markFailed records a flow failure on rec. Terminal records are left as is.
func (o *Orchestrator) markFailed(ctx context.Context, rec *domain.Record, cause error) {
	logger.CtxError(ctx, "Fine-tune flow failed: %v", cause)
	if rec.Status.IsTerminal() {
		return
	}
	if err := rec.Transition(domain.RecordStatusFailed); err != nil {
		logger.CtxWarn(ctx, "Cannot mark record failed: %v", err)
		return
	}
	if err := o.records.Update(ctx, rec); err != nil {
		logger.CtxError(ctx, "Failed to persist FAILED status: %v", err)
	}
}

// ResumePending restarts the fine-tune flow for PENDING records that never
// got a job, e.g. after a crash between ingestion and submission.
func (o *Orchestrator) ResumePending(ctx context.Context, limit int) (int, error) {
	pending, err := o.records.FindAll(ctx, domain.RecordStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending records: %w", err)
	}

	resumed := 0
	for i := range pending {
		if limit > 0 && resumed >= limit {
			break
		}
		rec := pending[i].Clone()
		if rec.JobID != "" {
			continue
		}
		if err := o.dispatcher.Submit(ctx, FlowFinetune, rec.ID, func(ctx context.Context) error {
			_, err := o.BuildFinetune(ctx, rec)
			return err
		}); err != nil {
			return resumed, err
		}
		resumed++
	}
	logger.With(logger.Fields{logger.FieldCount: resumed}).Info(ctx, "Resumed pending fine-tunes")
	return resumed, nil
}

// Get returns a record by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Record, error) {
	return o.records.GetByID(ctx, id)
}

// Wait blocks until every dispatched flow has finished.
func (o *Orchestrator) Wait() {
	o.dispatcher.Wait()
}
