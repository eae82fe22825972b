package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"profiling-proxy-go/internal/auth"
	"profiling-proxy-go/internal/candidates"
	"profiling-proxy-go/internal/client"
	"profiling-proxy-go/internal/model"
	"profiling-proxy-go/internal/relay"
	"profiling-proxy-go/internal/retry"
	"profiling-proxy-go/internal/search"
	"profiling-proxy-go/internal/service"
)

// Datasets accepted by the flamegraph endpoint.
const (
	datasetProfiles  = "profiles"
	datasetDiscover  = "discover"
	datasetFunctions = "functions"
)

// chunksRequest is the upstream body for the chunks endpoint. Timestamps are
// nanosecond-epoch strings to avoid JSON number precision loss.
type chunksRequest struct {
	ProfilerID string   `json:"profiler_id"`
	ChunkIDs   []string `json:"chunk_ids"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
}

// chunksFlamegraphRequest is the upstream body for the chunks-flamegraph endpoint.
type chunksFlamegraphRequest struct {
	ChunksMetadata []candidates.ChunkMetadata `json:"chunks_metadata"`
}

// ProfilingHandler serves the profiling endpoints: it validates request
// parameters, asks the candidate-selection collaborator for the upstream
// request body, and relays the upstream response back to the caller.
type ProfilingHandler struct {
	service *service.ProxyService
	finder  candidates.Finder
	logger  *slog.Logger
}

// NewProfilingHandler creates a ProfilingHandler.
func NewProfilingHandler(svc *service.ProxyService, finder candidates.Finder, logger *slog.Logger) *ProfilingHandler {
	return &ProfilingHandler{
		service: svc,
		finder:  finder,
		logger:  logger.With("component", "profiling_handler"),
	}
}

// Flamegraph proxies a flamegraph render for the profiles selected by the
// candidate finder.
func (h *ProfilingHandler) Flamegraph(c echo.Context) error {
	ctx := c.Request().Context()
	org := c.Param("organization_id")

	projectIDs := c.QueryParams()["project_id"]
	if len(projectIDs) > 1 {
		return detail(c, http.StatusBadRequest, "You cannot get a flamegraph from multiple projects.")
	}

	fingerprint, err := parseFingerprint(c.QueryParam("fingerprint"))
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}

	dataset, err := resolveDataset(c.QueryParam("dataset"), fingerprint)
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}

	filters := search.FilterSet{}
	if query := c.QueryParam("query"); query != "" {
		filters, err = search.ParseProfileFilters(query)
		if err != nil {
			return detail(c, http.StatusBadRequest, err.Error())
		}
	}

	start, end, err := parseTimeRange(c, false)
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}

	cands, err := h.finder.FlamegraphCandidates(ctx, candidates.FlamegraphQuery{
		OrganizationID: org,
		ProjectIDs:     projectIDs,
		Dataset:        dataset,
		Fingerprint:    fingerprint,
		Filters:        filters,
		Start:          start,
		End:            end,
	})
	if err != nil {
		h.logger.Error("selecting profile candidates", "err", err, "organization", org)
		return detail(c, http.StatusInternalServerError, "failed to select profile candidates")
	}

	body, err := json.Marshal(cands)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to encode profile candidates")
	}

	path := fmt.Sprintf("/organizations/%s/flamegraph", org)
	if len(projectIDs) == 1 {
		path = fmt.Sprintf("/organizations/%s/projects/%s/flamegraph", org, projectIDs[0])
	}

	resp, err := h.service.Forward(ctx, http.MethodPost, path, nil, nil, body)
	if err != nil {
		return h.mapError(c, err)
	}

	return h.relay(c, resp)
}

// Chunks proxies a lookup of the continuous-profiling chunks recorded by one
// profiler within a precise time range.
func (h *ProfilingHandler) Chunks(c echo.Context) error {
	ctx := c.Request().Context()
	org := c.Param("organization_id")

	projectIDs := c.QueryParams()["project_id"]
	if len(projectIDs) != 1 {
		return detail(c, http.StatusBadRequest, "one project_id must be specified.")
	}

	profilerID := c.QueryParam("profiler_id")
	if profilerID == "" {
		return detail(c, http.StatusBadRequest, "profiler_id must be specified.")
	}

	start, end, err := parseTimeRange(c, true)
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}

	chunkIDs, err := h.finder.ChunkIDs(ctx, candidates.ChunkQuery{
		OrganizationID: org,
		ProjectID:      projectIDs[0],
		ProfilerID:     profilerID,
		Start:          start,
		End:            end,
	})
	if err != nil {
		h.logger.Error("selecting chunk ids", "err", err, "organization", org, "profiler_id", profilerID)
		return detail(c, http.StatusInternalServerError, "failed to select chunk ids")
	}

	body, err := json.Marshal(chunksRequest{
		ProfilerID: profilerID,
		ChunkIDs:   chunkIDs,
		Start:      strconv.FormatInt(start.UnixNano(), 10),
		End:        strconv.FormatInt(end.UnixNano(), 10),
	})
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to encode chunk request")
	}

	path := fmt.Sprintf("/organizations/%s/projects/%s/chunks", org, projectIDs[0])

	resp, err := h.service.Forward(ctx, http.MethodPost, path, nil, nil, body)
	if err != nil {
		return h.mapError(c, err)
	}

	return h.relay(c, resp)
}

// ChunksFlamegraph proxies a flamegraph render for the chunks covering a span
// group.
func (h *ProfilingHandler) ChunksFlamegraph(c echo.Context) error {
	ctx := c.Request().Context()
	org := c.Param("organization_id")

	projectIDs := c.QueryParams()["project_id"]
	if len(projectIDs) != 1 {
		return detail(c, http.StatusBadRequest, "one project_id must be specified.")
	}

	spanGroup := c.QueryParam("span_group")
	if spanGroup == "" {
		return detail(c, http.StatusBadRequest, "span_group must be specified.")
	}

	start, end, err := parseTimeRange(c, false)
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}

	chunks, err := h.finder.ChunksFromSpanGroup(ctx, candidates.SpanGroupQuery{
		OrganizationID: org,
		ProjectID:      projectIDs[0],
		SpanGroup:      spanGroup,
		Start:          start,
		End:            end,
	})
	if err != nil {
		h.logger.Error("selecting chunks from span group", "err", err, "organization", org, "span_group", spanGroup)
		return detail(c, http.StatusInternalServerError, "failed to select chunks for span group")
	}

	body, err := json.Marshal(chunksFlamegraphRequest{ChunksMetadata: chunks})
	if err != nil {
		return detail(c, http.StatusInternalServerError, "failed to encode chunk metadata")
	}

	path := fmt.Sprintf("/organizations/%s/projects/%s/chunks-flamegraph", org, projectIDs[0])

	resp, err := h.service.Forward(ctx, http.MethodPost, path, nil, nil, body)
	if err != nil {
		return h.mapError(c, err)
	}

	return h.relay(c, resp)
}

// relay streams the upstream response to the caller. Mid-stream failures are
// logged only: the status line is already on the wire.
func (h *ProfilingHandler) relay(c echo.Context, resp *model.ProxyResponse) error {
	if err := relay.Stream(c.Response(), resp); err != nil {
		h.logger.Error("streaming upstream body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *ProfilingHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return detail(c, http.StatusInternalServerError, "authentication with the profiling service failed")
	}

	if errors.Is(err, context.Canceled) {
		return detail(c, http.StatusBadGateway, "client disconnected")
	}

	if retry.IsReadTimeout(err) {
		return detail(c, http.StatusGatewayTimeout, "profiling service timed out")
	}

	var transportErr *client.TransportError
	if errors.As(err, &transportErr) {
		return detail(c, http.StatusBadGateway, "profiling service unavailable")
	}

	return detail(c, http.StatusBadGateway, "upstream request failed")
}

// detail writes an error body in the {"detail": ...} shape the front-end
// expects.
func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

// parseFingerprint parses the optional fingerprint parameter, an unsigned
// 32-bit integer.
func parseFingerprint(raw string) (*uint32, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, errors.New(`"fingerprint" must be an unsigned 32-bit integer`)
	}
	f := uint32(v)
	return &f, nil
}

// resolveDataset applies the dataset defaulting rules: functions when a
// fingerprint is given, discover otherwise. A fingerprint is only permitted
// with the functions dataset.
func resolveDataset(dataset string, fingerprint *uint32) (string, error) {
	switch dataset {
	case "":
		if fingerprint != nil {
			return datasetFunctions, nil
		}
		return datasetDiscover, nil
	case datasetFunctions:
		return datasetFunctions, nil
	case datasetProfiles, datasetDiscover:
		if fingerprint != nil {
			return "", errors.New(`"fingerprint" is only permitted when using dataset: "functions"`)
		}
		return dataset, nil
	default:
		return "", errors.New(`"dataset" must be one of: profiles, discover, functions`)
	}
}

// parseTimeRange parses the start/end query parameters as RFC3339 timestamps.
// When required is false an absent range yields zero times.
func parseTimeRange(c echo.Context, required bool) (time.Time, time.Time, error) {
	startRaw := c.QueryParam("start")
	endRaw := c.QueryParam("end")

	if startRaw == "" && endRaw == "" {
		if required {
			return time.Time{}, time.Time{}, errors.New("start and end must be specified.")
		}
		return time.Time{}, time.Time{}, nil
	}
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start and end must be specified together.")
	}

	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("start must be an RFC3339 timestamp.")
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("end must be an RFC3339 timestamp.")
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("start must be before end.")
	}

	return start, end, nil
}
