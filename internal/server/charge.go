package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/pkg/db/pagination"
)

type hoursTriggerRequest struct {
	WorkerID           string `json:"worker_id" binding:"required"`
	EmployerID         string `json:"employer_id" binding:"required"`
	Year               int    `json:"year" binding:"required"`
	Month              int    `json:"month" binding:"required,min=1,max=12"`
	Day                int    `json:"day" binding:"required,min=1,max=31"`
	Hours              string `json:"hours" binding:"required"`
	EmploymentStatusID string `json:"employment_status_id"`
	Home               bool   `json:"home"`
}

func (s *Server) triggerHours(c *gin.Context) {
	var req hoursTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}
	hours, err := decimal.NewFromString(req.Hours)
	if err != nil || hours.Sign() < 0 {
		AbortWithError(c, newValidationError("hours", "invalid_hours", "hours must be a non-negative decimal"))
		return
	}

	summary, err := s.chargeSvc.ExecuteForTrigger(c.Request.Context(), chargedomain.TriggerContext{
		Kind: chargedomain.TriggerHoursRecorded,
		Hours: &chargedomain.HoursContext{
			WorkerID:           req.WorkerID,
			EmployerID:         req.EmployerID,
			Year:               req.Year,
			Month:              req.Month,
			Day:                req.Day,
			Hours:              hours,
			EmploymentStatusID: req.EmploymentStatusID,
			Home:               req.Home,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type paymentTriggerRequest struct {
	PaymentID     string     `json:"payment_id" binding:"required"`
	Amount        string     `json:"amount" binding:"required"`
	Status        string     `json:"status" binding:"required"`
	AccountID     string     `json:"account_id" binding:"required"`
	EntityType    string     `json:"entity_type" binding:"required"`
	EntityID      string     `json:"entity_id" binding:"required"`
	ClearedDate   *time.Time `json:"cleared_date"`
	PaymentTypeID string     `json:"payment_type_id"`
}

func (s *Server) triggerPayment(c *gin.Context) {
	var req paymentTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}
	accountID, err := snowflake.ParseString(req.AccountID)
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}

	summary, err := s.chargeSvc.ExecuteForTrigger(c.Request.Context(), chargedomain.TriggerContext{
		Kind: chargedomain.TriggerPaymentSaved,
		Payment: &chargedomain.PaymentContext{
			PaymentID:     req.PaymentID,
			Amount:        req.Amount,
			Status:        req.Status,
			AccountID:     accountID,
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			ClearedDate:   req.ClearedDate,
			PaymentTypeID: req.PaymentTypeID,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type participantTriggerRequest struct {
	ParticipantID string  `json:"participant_id" binding:"required"`
	EventID       string  `json:"event_id" binding:"required"`
	EventTypeID   string  `json:"event_type_id"`
	ContactID     string  `json:"contact_id" binding:"required"`
	Role          string  `json:"role"`
	Status        *string `json:"status"`
	WorkerID      *string `json:"worker_id"`
	IsSteward     bool    `json:"is_steward"`
}

func (s *Server) triggerParticipant(c *gin.Context) {
	var req participantTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	summary, err := s.chargeSvc.ExecuteForTrigger(c.Request.Context(), chargedomain.TriggerContext{
		Kind: chargedomain.TriggerParticipantSaved,
		Participant: &chargedomain.ParticipantContext{
			ParticipantID: req.ParticipantID,
			EventID:       req.EventID,
			EventTypeID:   req.EventTypeID,
			ContactID:     req.ContactID,
			Role:          req.Role,
			Status:        req.Status,
			WorkerID:      req.WorkerID,
			IsSteward:     req.IsSteward,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listPlugins(c *gin.Context) {
	plugins := s.registry.All()
	out := make([]any, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p.Metadata())
	}
	c.JSON(http.StatusOK, gin.H{"plugins": out})
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.chargeSvc.ListAccounts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

type listEntriesQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	PluginID   string `form:"plugin_id"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	RefType    string `form:"ref_type"`
	RefID      string `form:"ref_id"`
}

func (s *Server) listEntries(c *gin.Context) {
	var query listEntriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	resp, err := s.chargeSvc.ListEntries(c.Request.Context(), chargedomain.ListEntriesRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		PluginID:   strings.TrimSpace(query.PluginID),
		EntityType: strings.TrimSpace(query.EntityType),
		EntityID:   strings.TrimSpace(query.EntityID),
		RefType:    strings.TrimSpace(query.RefType),
		RefID:      strings.TrimSpace(query.RefID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) verifyEntry(c *gin.Context) {
	entryID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_entry_id", "invalid entry id"))
		return
	}

	result, err := s.chargeSvc.VerifyEntry(c.Request.Context(), entryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type verifySweepRequest struct {
	BatchSize int `json:"batch_size"`
}

func (s *Server) verifySweep(c *gin.Context) {
	var req verifySweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	report, err := s.chargeSvc.VerifySweep(c.Request.Context(), req.BatchSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
