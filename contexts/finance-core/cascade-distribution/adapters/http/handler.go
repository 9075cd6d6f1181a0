package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/application/commands"
	"splitflow/contexts/finance-core/cascade-distribution/application/queries"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/domain/services"
	httptransport "splitflow/contexts/finance-core/cascade-distribution/transport/http"
)

// BatchRunner is the worker surface the trigger drives.
type BatchRunner interface {
	TryRunBatch(ctx context.Context) (entities.BatchSummary, error)
}

type Handler struct {
	Commands      commands.UseCase
	Queries       queries.UseCase
	Worker        BatchRunner
	AssetDecimals int32
	Logger        *slog.Logger
}

func (h Handler) ProcessBatchHandler(ctx context.Context) (httptransport.ProcessBatchResponse, error) {
	summary, err := h.Worker.TryRunBatch(ctx)
	if err != nil {
		return httptransport.ProcessBatchResponse{}, err
	}
	return httptransport.ProcessBatchResponse{
		Processed: summary.Processed,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Enqueued:  summary.Enqueued,
		Skipped:   summary.Skipped,
	}, nil
}

func (h Handler) EnqueuePaymentHandler(
	ctx context.Context,
	idempotencyKey string,
	req httptransport.EnqueuePaymentRequest,
) (httptransport.JobResponse, error) {
	amount := req.Amount
	if amount == 0 && strings.TrimSpace(req.AmountDisplay) != "" {
		parsed, err := services.ParseAmount(req.AmountDisplay, h.decimals())
		if err != nil {
			return httptransport.JobResponse{}, domainerrors.ErrInvalidPaymentInput
		}
		amount = parsed
	}
	job, replayed, err := h.Commands.EnqueuePayment(ctx, idempotencyKey, commands.EnqueuePaymentCommand{
		SourceRef:  req.SourceRef,
		Identifier: req.Identifier,
		Asset:      req.Asset,
		Payer:      req.Payer,
		Amount:     amount,
	})
	if err != nil {
		return httptransport.JobResponse{}, err
	}
	return httptransport.JobResponse{
		Status:   "success",
		Replayed: replayed,
		Data:     toJobDTO(job),
	}, nil
}

func (h Handler) GetJobHandler(ctx context.Context, jobID string) (httptransport.JobResponse, error) {
	job, err := h.Queries.GetJob(ctx, jobID)
	if err != nil {
		return httptransport.JobResponse{}, err
	}
	return httptransport.JobResponse{
		Status: "success",
		Data:   toJobDTO(job),
	}, nil
}

func (h Handler) RequeueJobHandler(ctx context.Context, jobID string) (httptransport.JobResponse, error) {
	job, err := h.Commands.RequeueJob(ctx, jobID)
	if err != nil {
		return httptransport.JobResponse{}, err
	}
	return httptransport.JobResponse{
		Status: "success",
		Data:   toJobDTO(job),
	}, nil
}

func (h Handler) ResetStaleHandler(
	ctx context.Context,
	req httptransport.ResetStaleRequest,
	defaultOlderThan time.Duration,
) (httptransport.ResetStaleResponse, error) {
	olderThan := defaultOlderThan
	if raw := strings.TrimSpace(req.OlderThan); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return httptransport.ResetStaleResponse{}, domainerrors.ErrInvalidJobInput
		}
		olderThan = parsed
	}
	count, err := h.Commands.ResetStale(ctx, olderThan)
	if err != nil {
		return httptransport.ResetStaleResponse{}, err
	}
	return httptransport.ResetStaleResponse{Status: "success", Reset: count}, nil
}

func (h Handler) GetCascadeHandler(ctx context.Context, sourceRef string) (httptransport.CascadeResponse, error) {
	cascade, err := h.Queries.GetCascade(ctx, sourceRef)
	if err != nil {
		return httptransport.CascadeResponse{}, err
	}
	resp := httptransport.CascadeResponse{Status: "success"}
	resp.Data.SourceRef = cascade.SourceRef
	resp.Data.Jobs = make([]httptransport.JobDTO, 0, len(cascade.Jobs))
	for _, job := range cascade.Jobs {
		resp.Data.Jobs = append(resp.Data.Jobs, toJobDTO(job))
	}
	resp.Data.Entries = make([]httptransport.LedgerEntryDTO, 0, len(cascade.Entries))
	for _, entry := range cascade.Entries {
		resp.Data.Entries = append(resp.Data.Entries, h.toLedgerEntryDTO(entry))
	}
	resp.Data.TotalDistributed = cascade.TotalDistributed
	resp.Data.TotalDistributedDisplay = services.FormatAmount(cascade.TotalDistributed, h.decimals())
	return resp, nil
}

func (h Handler) GetBalancesHandler(
	ctx context.Context,
	identifier string,
	asset string,
) (httptransport.BalancesResponse, error) {
	balances, err := h.Queries.GetBalances(ctx, identifier, asset)
	if err != nil {
		return httptransport.BalancesResponse{}, err
	}
	decimals := h.decimals()
	resp := httptransport.BalancesResponse{Status: "success"}
	resp.Data.Identifier = balances.Identifier
	resp.Data.Asset = balances.Asset
	resp.Data.Pool = services.FormatAmount(balances.Pool, decimals)
	resp.Data.Unclaimed = services.FormatAmount(balances.Unclaimed, decimals)
	resp.Data.TotalReceived = services.FormatAmount(balances.TotalReceived, decimals)
	resp.Data.TotalForwarded = services.FormatAmount(balances.TotalForwarded, decimals)
	return resp, nil
}

func (h Handler) decimals() int32 {
	if h.AssetDecimals <= 0 {
		return services.DefaultAssetDecimals
	}
	return h.AssetDecimals
}

func (h Handler) toLedgerEntryDTO(entry entities.LedgerEntry) httptransport.LedgerEntryDTO {
	return httptransport.LedgerEntryDTO{
		EntryID:        entry.ID,
		EntryType:      string(entry.EntryType),
		FromIdentifier: entry.FromIdentifier,
		ToIdentifier:   entry.ToIdentifier,
		FromAccount:    entry.FromAccount,
		ToAccount:      entry.ToAccount,
		Amount:         entry.Amount,
		AmountDisplay:  services.FormatAmount(entry.Amount, h.decimals()),
		Asset:          entry.Asset,
		TxRef:          entry.TxRef,
		JobID:          entry.JobID,
		Depth:          entry.Depth,
		ShareBps:       entry.ShareBps,
		CreatedAt:      entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toJobDTO(job entities.DistributionJob) httptransport.JobDTO {
	dto := httptransport.JobDTO{
		JobID:       job.ID,
		Identifier:  job.Identifier,
		Asset:       job.Asset,
		Depth:       job.Depth,
		SourceRef:   job.SourceRef,
		ParentJobID: job.ParentJobID,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		Note:        job.Note,
		ExternalRef: job.ExternalRef,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.ClaimedAt != nil {
		dto.ClaimedAt = job.ClaimedAt.UTC().Format(time.RFC3339)
	}
	if job.ProcessedAt != nil {
		dto.ProcessedAt = job.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return dto
}
