package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"table-service/internal/middleware"
	"table-service/internal/service"
	"table-service/internal/service/bet"
	"table-service/internal/service/game"
	"table-service/internal/service/member"
	"table-service/internal/service/report"
	"table-service/internal/ws"
	"table-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Tables, services.Hub, services.Members)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/tables", handler.ListTables)
		v1.GET("/tables/:id/roadmap", handler.GetRoadmap)

		userGroup := v1.Group("/")
		userGroup.Use(middleware.AuthRequired())
		{
			userGroup.GET("/tables/:id/state", handler.GetTableState)
			userGroup.POST("/tables/:id/bets", handler.PlaceBets)
			userGroup.DELETE("/tables/:id/bets", handler.ClearBets)
			userGroup.GET("/wallet", handler.GetWallet)
			userGroup.GET("/me", handler.GetMe)
		}
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuthRequired())
	{
		adminGroup.GET("/users", handler.AdminListUsers)
		adminGroup.GET("/users/:id", handler.AdminGetUser)
		adminGroup.POST("/users/:id/status", handler.AdminUpdateUserStatus)
		adminGroup.POST("/users/:id/deposit", handler.AdminDeposit)
		adminGroup.POST("/users/:id/withdraw", handler.AdminWithdraw)
		adminGroup.GET("/reports/settlement", handler.AdminSettlementReport)
	}

	r.GET("/ws/table/:tableId", wsHandler.HandleTableWS)
}

type betEntryBody struct {
	Type   string `json:"type" binding:"required"`
	Amount int64  `json:"amount" binding:"required,min=1"`
}

type placeBetsBody struct {
	Entries      []betEntryBody `json:"entries" binding:"required,min=1,max=16,dive"`
	NoCommission bool           `json:"noCommission"`
}

type userStatusBody struct {
	Status string `json:"status" binding:"required,oneof=normal banned"`
	Reason string `json:"reason" binding:"max=200"`
}

type walletMoveBody struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

func (h *Handler) ListTables(c *gin.Context) {
	response.Success(c, gin.H{"tables": h.services.Tables.List()})
}

func (h *Handler) GetTableState(c *gin.Context) {
	tableID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rt, err := h.services.Tables.Get(tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	userID, _ := getUserID(c)
	response.Success(c, gin.H{"state": rt.State(userID)})
}

func (h *Handler) GetRoadmap(c *gin.Context) {
	tableID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rt, err := h.services.Tables.Get(tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"roadmap": rt.Roadmap()})
}

func (h *Handler) PlaceBets(c *gin.Context) {
	tableID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body placeBetsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.services.Members.CheckActive(c.Request.Context(), userID); err != nil {
		response.Fail(c, err)
		return
	}
	rt, err := h.services.Tables.Get(tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	entries := make([]bet.Entry, 0, len(body.Entries))
	for _, e := range body.Entries {
		entries = append(entries, bet.Entry{Type: game.BetType(e.Type), Amount: e.Amount})
	}
	receipt, err := rt.PlaceBets(c.Request.Context(), userID, entries, body.NoCommission)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"receipt": receipt})
}

func (h *Handler) ClearBets(c *gin.Context) {
	tableID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	rt, err := h.services.Tables.Get(tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	refund, err := rt.ClearBets(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"refund": refund})
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.services.Wallet.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"wallet": wallet})
}

func (h *Handler) GetMe(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.services.Members.Get(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"user": user})
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	filter := member.ListFilter{
		Page:   parseIntQuery(c, "page", 1),
		Size:   parseIntQuery(c, "size", 20),
		Status: c.Query("status"),
	}
	if raw := strings.TrimSpace(c.Query("agentId")); raw != "" {
		agentID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid agentId")
			return
		}
		filter.AgentID = &agentID
	}
	result, err := h.services.Members.List(c.Request.Context(), filter)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) AdminGetUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	user, err := h.services.Members.Get(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"user": user})
}

func (h *Handler) AdminUpdateUserStatus(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body userStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.services.Members.SetStatus(c.Request.Context(), userID, body.Status, body.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"user": user})
}

func (h *Handler) AdminDeposit(c *gin.Context) {
	userID, body, ok := parseWalletMove(c)
	if !ok {
		return
	}
	wallet, err := h.services.Wallet.Deposit(c.Request.Context(), userID, body.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"wallet": wallet})
}

func (h *Handler) AdminWithdraw(c *gin.Context) {
	userID, body, ok := parseWalletMove(c)
	if !ok {
		return
	}
	wallet, err := h.services.Wallet.Withdraw(c.Request.Context(), userID, body.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"wallet": wallet})
}

func (h *Handler) AdminSettlementReport(c *gin.Context) {
	q := report.Query{
		Scope: report.Scope(strings.TrimSpace(c.DefaultQuery("scope", string(report.ScopePlatform)))),
		Date:  strings.TrimSpace(c.Query("date")),
	}
	if raw := strings.TrimSpace(c.Query("subjectId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid subjectId")
			return
		}
		q.SubjectID = id
	}
	if raw := strings.TrimSpace(c.Query("at")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid at, expected RFC3339")
			return
		}
		q.At = at
	}

	rep, err := h.services.Report.Settlement(c.Request.Context(), q)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"report": rep})
}

func parseWalletMove(c *gin.Context) (int64, walletMoveBody, bool) {
	var body walletMoveBody
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return 0, body, false
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return 0, body, false
	}
	return userID, body, true
}

func parseIDParam(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return id, true
}

func parseIntQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
