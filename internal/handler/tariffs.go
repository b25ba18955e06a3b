package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/avoronin/cargoflow/internal/calculator"
	"github.com/avoronin/cargoflow/internal/model"
)

type quoteRequest struct {
	FromCountryID int64            `json:"fromCountryId"`
	Weight        decimal.Decimal  `json:"weight"`
	Length        *decimal.Decimal `json:"length,omitempty"`
	Width         *decimal.Decimal `json:"width,omitempty"`
	Height        *decimal.Decimal `json:"height,omitempty"`
	DeclaredValue decimal.Decimal  `json:"declaredValue"`
}

type quoteOptionResponse struct {
	TariffID      int64           `json:"tariffId"`
	WarehouseName string          `json:"warehouseName"`
	DeliveryDays  string          `json:"deliveryDays"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Insurance     decimal.Decimal `json:"insurance"`
	CustomsDuty   decimal.Decimal `json:"customsDuty"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	CustomsFee    decimal.Decimal `json:"customsFee"`
	TotalCost     decimal.Decimal `json:"totalCost"`
}

type quoteResponse struct {
	Weight           decimal.Decimal       `json:"weight"`
	VolumeWeight     decimal.Decimal       `json:"volumeWeight"`
	ChargeableWeight decimal.Decimal       `json:"chargeableWeight"`
	DeclaredValue    decimal.Decimal       `json:"declaredValue"`
	Options          []quoteOptionResponse `json:"options"`
}

// QuoteShipping рассчитывает варианты доставки по стране отправления, весу,
// габаритам и объявленной стоимости.
func (h *Handler) QuoteShipping(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	if req.Weight.LessThanOrEqual(decimal.Zero) {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "weight must be positive")
		return
	}

	var dims *calculator.Dimensions
	if req.Length != nil && req.Width != nil && req.Height != nil {
		dims = &calculator.Dimensions{Length: *req.Length, Width: *req.Width, Height: *req.Height}
	}

	quote, err := h.service.QuoteShipping(r.Context(), req.FromCountryID, req.Weight, dims, req.DeclaredValue)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := quoteResponse{
		Weight:           quote.Weight,
		VolumeWeight:     quote.VolumeWeight,
		ChargeableWeight: quote.ChargeableWeight,
		DeclaredValue:    quote.DeclaredValue,
		Options:          make([]quoteOptionResponse, 0, len(quote.Options)),
	}
	for _, o := range quote.Options {
		resp.Options = append(resp.Options, quoteOptionResponse{
			TariffID:      o.TariffID,
			WarehouseName: o.WarehouseName,
			DeliveryDays:  o.DeliveryDays,
			ShippingCost:  o.ShippingCost,
			Insurance:     o.Insurance,
			CustomsDuty:   o.CustomsDuty,
			ProcessingFee: o.ProcessingFee,
			CustomsFee:    o.CustomsFee,
			TotalCost:     o.TotalCost,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type tariffResponse struct {
	ID              int64            `json:"id"`
	CountryID       int64            `json:"countryId"`
	WarehouseID     int64            `json:"warehouseId"`
	WarehouseName   string           `json:"warehouseName,omitempty"`
	Name            string           `json:"name"`
	PricePerKg      decimal.Decimal  `json:"pricePerKg"`
	MinWeight       decimal.Decimal  `json:"minWeight"`
	MaxWeight       *decimal.Decimal `json:"maxWeight,omitempty"`
	DeliveryDaysMin int              `json:"deliveryDaysMin"`
	DeliveryDaysMax int              `json:"deliveryDaysMax"`
	ProcessingFee   decimal.Decimal  `json:"processingFee"`
	CustomsFee      decimal.Decimal  `json:"customsFee"`
	IsActive        bool             `json:"isActive"`
}

func toTariffResponse(t model.Tariff) tariffResponse {
	return tariffResponse{
		ID:              t.ID,
		CountryID:       t.CountryID,
		WarehouseID:     t.WarehouseID,
		WarehouseName:   t.WarehouseName,
		Name:            t.Name,
		PricePerKg:      t.PricePerKg,
		MinWeight:       t.MinWeight,
		MaxWeight:       t.MaxWeight,
		DeliveryDaysMin: t.DeliveryDaysMin,
		DeliveryDaysMax: t.DeliveryDaysMax,
		ProcessingFee:   t.ProcessingFee,
		CustomsFee:      t.CustomsFee,
		IsActive:        t.IsActive,
	}
}

// ListTariffs возвращает активные тарифы страны отправления.
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	countryID, err := strconv.ParseInt(r.URL.Query().Get("country_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "country_id is required")
		return
	}

	tariffs, err := h.service.ListTariffs(r.Context(), countryID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]tariffResponse, 0, len(tariffs))
	for _, t := range tariffs {
		resp = append(resp, toTariffResponse(t))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type tariffRequest struct {
	CountryID       int64            `json:"countryId"`
	WarehouseID     int64            `json:"warehouseId"`
	Name            string           `json:"name"`
	PricePerKg      decimal.Decimal  `json:"pricePerKg"`
	MinWeight       decimal.Decimal  `json:"minWeight"`
	MaxWeight       *decimal.Decimal `json:"maxWeight,omitempty"`
	DeliveryDaysMin int              `json:"deliveryDaysMin"`
	DeliveryDaysMax int              `json:"deliveryDaysMax"`
	ProcessingFee   decimal.Decimal  `json:"processingFee"`
	CustomsFee      decimal.Decimal  `json:"customsFee"`
}

func (req *tariffRequest) toModel() *model.Tariff {
	return &model.Tariff{
		CountryID:       req.CountryID,
		WarehouseID:     req.WarehouseID,
		Name:            req.Name,
		PricePerKg:      req.PricePerKg,
		MinWeight:       req.MinWeight,
		MaxWeight:       req.MaxWeight,
		DeliveryDaysMin: req.DeliveryDaysMin,
		DeliveryDaysMax: req.DeliveryDaysMax,
		ProcessingFee:   req.ProcessingFee,
		CustomsFee:      req.CustomsFee,
		IsActive:        true,
	}
}

// CreateTariff создаёт новый тариф. Только для администраторов.
func (h *Handler) CreateTariff(w http.ResponseWriter, r *http.Request) {
	var req tariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	id, err := h.service.CreateTariff(r.Context(), req.toModel())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// UpdateTariff обновляет существующий тариф. Только для администраторов.
func (h *Handler) UpdateTariff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid tariff id")
		return
	}

	var req tariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	tariff := req.toModel()
	tariff.ID = id

	if err := h.service.UpdateTariff(r.Context(), tariff); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeactivateTariff мягко удаляет тариф. Только для администраторов.
func (h *Handler) DeactivateTariff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid tariff id")
		return
	}

	if err := h.service.DeactivateTariff(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
