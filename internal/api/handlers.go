package api

import (
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/benchmarks"
	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/ingest"
	"github.com/dslovacek55-hash/Reality/internal/models"
	"github.com/dslovacek55-hash/Reality/internal/queue"
	"github.com/dslovacek55-hash/Reality/internal/search"
)

// Sweeper triggers the maintenance sweeps outside their schedule.
type Sweeper interface {
	RunSweepsNow()
}

type Handler struct {
	db        *database.Database
	queue     *queue.ListingQueue
	reference *benchmarks.Service
	sweeper   Sweeper
	logger    *logrus.Logger
}

func NewHandler(db *database.Database, q *queue.ListingQueue, reference *benchmarks.Service, sweeper Sweeper, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		db:        db,
		queue:     q,
		reference: reference,
		sweeper:   sweeper,
		logger:    logger,
	}
}

func floatParam(c *gin.Context, name string) *float64 {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func intParam(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// parseListQuery maps query parameters onto the shared listing filter. The
// CSV export uses the same mapping so both endpoints agree on the row set.
func parseListQuery(c *gin.Context) database.ListQuery {
	return database.ListQuery{
		PropertyType:    c.Query("property_type"),
		TransactionType: c.Query("transaction_type"),
		City:            c.Query("city"),
		District:        c.Query("district"),
		Disposition:     c.Query("disposition"),
		PriceMin:        floatParam(c, "price_min"),
		PriceMax:        floatParam(c, "price_max"),
		SizeMin:         floatParam(c, "size_min"),
		SizeMax:         floatParam(c, "size_max"),
		Status:          c.Query("status"),
		Source:          c.Query("source"),
		Search:          c.Query("search"),
		Sort:            c.DefaultQuery("sort", "newest"),
		Page:            intParam(c, "page", 1),
		PerPage:         intParam(c, "per_page", 20),
	}
}

func (h *Handler) ListProperties(c *gin.Context) {
	q := parseListQuery(c)
	items, total, err := h.db.ListProperties(q)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list properties")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list properties"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    total,
		"page":     q.Page,
		"per_page": q.PerPage,
	})
}

// csvExportPageSize pages through the full match set during export.
const csvExportPageSize = 500

func (h *Handler) ExportProperties(c *gin.Context) {
	q := parseListQuery(c)
	q.Page = 1
	q.PerPage = csvExportPageSize

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="properties.csv"`)

	w := csv.NewWriter(c.Writer)
	header := []string{
		"id", "source", "external_id", "url", "title",
		"property_type", "transaction_type", "disposition",
		"price", "currency", "size_m2", "city", "district", "address",
		"ku_kod", "ku_nazev", "status", "first_seen_at", "last_seen_at",
	}
	if err := w.Write(header); err != nil {
		h.logger.WithError(err).Error("Failed to write CSV header")
		return
	}

	for {
		items, _, err := h.db.ListProperties(q)
		if err != nil {
			h.logger.WithError(err).Error("Failed to export properties")
			return
		}
		for _, p := range items {
			if err := w.Write(csvRow(&p)); err != nil {
				h.logger.WithError(err).Error("Failed to write CSV row")
				return
			}
		}
		if len(items) < q.PerPage {
			break
		}
		q.Page++
	}
	w.Flush()
}

func csvRow(p *models.Property) []string {
	price := ""
	if p.Price != nil {
		price = strconv.FormatFloat(*p.Price, 'f', -1, 64)
	}
	size := ""
	if p.SizeM2 != nil {
		size = strconv.FormatFloat(*p.SizeM2, 'f', -1, 64)
	}
	kuKod := ""
	if p.KuKod != nil {
		kuKod = strconv.Itoa(*p.KuKod)
	}
	return []string{
		strconv.FormatInt(p.ID, 10), p.Source, p.ExternalID, p.URL, p.Title,
		p.PropertyType, p.TransactionType, p.Disposition,
		price, p.PriceCurrency, size, p.City, p.District, p.Address,
		kuKod, p.KuNazev, p.Status,
		p.FirstSeenAt.UTC().Format(time.RFC3339),
		p.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) GetProperty(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return
	}
	p, err := h.db.GetProperty(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get property"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPriceHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return
	}
	if _, err := h.db.GetProperty(id); errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	} else if err != nil {
		h.logger.WithError(err).Error("Failed to get property")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get price history"})
		return
	}
	entries, err := h.db.GetPriceHistory(id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get price history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get price history"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetMarkers(c *gin.Context) {
	q := database.MarkerQuery{
		PropertyType:    c.Query("property_type"),
		TransactionType: c.Query("transaction_type"),
		City:            c.Query("city"),
		PriceMin:        floatParam(c, "price_min"),
		PriceMax:        floatParam(c, "price_max"),
		MinLat:          floatParam(c, "min_lat"),
		MaxLat:          floatParam(c, "max_lat"),
		MinLng:          floatParam(c, "min_lng"),
		MaxLng:          floatParam(c, "max_lng"),
		Limit:           intParam(c, "limit", 0),
	}
	markers, err := h.db.GetMarkers(q)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get markers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get markers"})
		return
	}
	c.JSON(http.StatusOK, markers)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.db.GetDashboardStats(time.Now().UTC())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get dashboard stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetCities(c *gin.Context) {
	cities, err := h.db.GetCityCounts(intParam(c, "limit", 50))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get city counts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get cities"})
		return
	}
	c.JSON(http.StatusOK, cities)
}

func (h *Handler) GetDispositions(c *gin.Context) {
	c.JSON(http.StatusOK, ingest.CanonicalDispositions())
}

func (h *Handler) GetScrapeRuns(c *gin.Context) {
	runs, err := h.db.GetRecentRuns(intParam(c, "limit", 20))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get scrape runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scrape runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetPriceCompare merges own aggregates for a city with the best external
// reference price.
func (h *Handler) GetPriceCompare(c *gin.Context) {
	city := c.Query("city")
	if city == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing city parameter"})
		return
	}
	transactionType := c.DefaultQuery("transaction_type", "prodej")
	propertyType := c.Query("property_type")

	rows, err := h.db.ListKuStats(transactionType, propertyType)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list price stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compare prices"})
		return
	}

	// Region names are stored with diacritics, the query usually without.
	// Cadastral rows carry the unit name, not the city, so Prague queries
	// match them through the known cadastral area names.
	base := benchmarks.BaseCity(city)
	var own []models.KuPriceStats
	for _, row := range rows {
		folded := strings.ReplaceAll(search.Fold(row.Region), " ", "-")
		if strings.Contains(folded, base) ||
			(base == "praha" && row.KuKod != 0 && benchmarks.IsPragueCadastralArea(folded)) {
			own = append(own, row)
		}
	}

	resp := gin.H{
		"city":             city,
		"transaction_type": transactionType,
		"own_stats":        own,
	}
	if ref, ok := h.reference.ReferencePrice(city, transactionType, propertyType); ok {
		resp["reference"] = ref
	}
	c.JSON(http.StatusOK, resp)
}

// IngestRequest is one scrape run's payload for a single source.
type IngestRequest struct {
	Listings []models.RawListing `json:"listings" binding:"required"`
}

func (h *Handler) IngestListings(c *gin.Context) {
	source := strings.ToLower(c.Param("source"))
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ingest payload"})
		return
	}
	for i := range req.Listings {
		req.Listings[i].Source = source
	}

	err := h.queue.Push(&queue.Batch{Source: source, Listings: req.Listings})
	if errors.Is(err, queue.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingest queue is full"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to enqueue batch")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept batch"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Listings), "source": source})
}

// BenchmarkRequest upserts one externally sourced reference price point.
type BenchmarkRequest struct {
	Source          string  `json:"source" binding:"required"`
	Region          string  `json:"region" binding:"required"`
	PropertyType    string  `json:"property_type"`
	TransactionType string  `json:"transaction_type" binding:"required"`
	Period          string  `json:"period"`
	PriceM2         float64 `json:"price_m2" binding:"required"`
}

func (h *Handler) UpsertBenchmark(c *gin.Context) {
	var req BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid benchmark payload"})
		return
	}
	b := models.ReferenceBenchmark{
		Source:          req.Source,
		Region:          req.Region,
		PropertyType:    req.PropertyType,
		TransactionType: req.TransactionType,
		Period:          req.Period,
		PriceM2:         req.PriceM2,
		FetchedAt:       time.Now().UTC(),
	}
	if err := h.db.UpsertBenchmark(&b); err != nil {
		h.logger.WithError(err).Error("Failed to upsert benchmark")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store benchmark"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// FilterRequest creates or updates a notification subscription. Pointer
// fields distinguish "absent" from an explicit false or zero.
type FilterRequest struct {
	ChatID             int64    `json:"chat_id"`
	Name               string   `json:"name"`
	PropertyType       string   `json:"property_type"`
	TransactionType    string   `json:"transaction_type"`
	City               string   `json:"city"`
	District           string   `json:"district"`
	Disposition        string   `json:"disposition"`
	PriceMin           *float64 `json:"price_min"`
	PriceMax           *float64 `json:"price_max"`
	SizeMin            *float64 `json:"size_min"`
	SizeMax            *float64 `json:"size_max"`
	NotifyNew          *bool    `json:"notify_new"`
	NotifyPriceDrop    *bool    `json:"notify_price_drop"`
	PriceDropThreshold *float64 `json:"price_drop_threshold"`
	Active             *bool    `json:"active"`
}

func (r *FilterRequest) apply(f *models.UserFilter) {
	if r.Name != "" {
		f.Name = r.Name
	}
	f.PropertyType = r.PropertyType
	f.TransactionType = r.TransactionType
	f.City = r.City
	f.District = r.District
	f.Disposition = r.Disposition
	f.PriceMin = r.PriceMin
	f.PriceMax = r.PriceMax
	f.SizeMin = r.SizeMin
	f.SizeMax = r.SizeMax
	if r.NotifyNew != nil {
		f.NotifyNew = *r.NotifyNew
	}
	if r.NotifyPriceDrop != nil {
		f.NotifyPriceDrop = *r.NotifyPriceDrop
	}
	if r.PriceDropThreshold != nil {
		f.PriceDropThreshold = *r.PriceDropThreshold
	}
	if r.Active != nil {
		f.Active = *r.Active
	}
}

func (h *Handler) CreateFilter(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter payload"})
		return
	}

	f := models.UserFilter{
		ChatID:             req.ChatID,
		Name:               "My Filter",
		NotifyNew:          true,
		NotifyPriceDrop:    true,
		PriceDropThreshold: 5,
		Active:             true,
	}
	req.apply(&f)

	if err := h.db.CreateFilter(&f); err != nil {
		h.logger.WithError(err).Error("Failed to create filter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create filter"})
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) ListFilters(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing chat_id parameter"})
		return
	}
	filters, err := h.db.GetFiltersByChat(chatID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list filters")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list filters"})
		return
	}
	c.JSON(http.StatusOK, filters)
}

func (h *Handler) UpdateFilter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter id"})
		return
	}
	f, err := h.db.GetFilter(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Filter not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load filter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update filter"})
		return
	}

	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter payload"})
		return
	}
	req.apply(f)

	if err := h.db.UpdateFilter(f); err != nil {
		h.logger.WithError(err).Error("Failed to update filter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update filter"})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *Handler) DeleteFilter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter id"})
		return
	}
	err = h.db.DeleteFilter(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Filter not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete filter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete filter"})
		return
	}
	c.Status(http.StatusNoContent)
}

// FavoriteRequest pins a property for a dashboard session.
type FavoriteRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	PropertyID int64  `json:"property_id" binding:"required"`
}

func (h *Handler) AddFavorite(c *gin.Context) {
	var req FavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid favorite payload"})
		return
	}
	if err := h.db.AddFavorite(req.SessionID, req.PropertyID); err != nil {
		h.logger.WithError(err).Error("Failed to add favorite")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add favorite"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RemoveFavorite(c *gin.Context) {
	sessionID := c.Query("session_id")
	propertyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if sessionID == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid favorite request"})
		return
	}
	if err := h.db.RemoveFavorite(sessionID, propertyID); err != nil {
		h.logger.WithError(err).Error("Failed to remove favorite")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove favorite"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListFavorites(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session_id parameter"})
		return
	}
	props, err := h.db.GetFavorites(sessionID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list favorites")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list favorites"})
		return
	}
	c.JSON(http.StatusOK, props)
}

func (h *Handler) MarkSold(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return
	}
	err = h.db.MarkSold(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active property with that id"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to mark property sold")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark property sold"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusSold})
}

func (h *Handler) DeleteProperty(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return
	}
	err = h.db.DeleteProperty(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete property")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete property"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) TriggerSweeps(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sweeps are not available"})
		return
	}
	go h.sweeper.RunSweepsNow()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
