package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deepintrospect/backend/internal/chat"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/internal/store"
)

type startConversationRequest struct {
	Title string `json:"title" binding:"max=200"`
}

type messageRequest struct {
	Content string `json:"content" binding:"required,max=8000"`
}

type insightQuery struct {
	Type           string `form:"type"`
	ConversationID string `form:"conversation_id"`
	Limit          int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type knowledgeQuery struct {
	Depth int `form:"depth" binding:"omitempty,min=1,max=5"`
}

type searchQuery struct {
	Q string `form:"q" binding:"required"`
}

// setupRouter registers every route on a fresh engine
func setupRouter(a *app, production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(a.log))
	router.Use(gin.Recovery())
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	api := router.Group("/api")
	{
		users := api.Group("/users/:userID")
		users.POST("/conversations", a.startConversation)
		users.GET("/insights", a.listInsights)
		users.GET("/insights/analysis", a.insightAnalysis)
		users.GET("/insights/categories", a.insightCategories)
		users.GET("/overview", a.userOverview)
		users.GET("/summary", a.userSummary)
		users.GET("/graph", a.insightGraph)
		users.GET("/knowledge", a.knowledgeGraph)
		users.GET("/knowledge/search", a.searchKnowledge)
		users.GET("/knowledge/patterns", a.patterns)
		users.DELETE("", a.deleteUser)

		convs := api.Group("/conversations/:conversationID")
		convs.GET("/messages", a.listMessages)
		convs.POST("/messages", a.sendMessage)
		convs.POST("/messages/stream", a.streamMessage)
		convs.GET("/summary", a.conversationSummary)
		convs.GET("/insights", a.conversationInsights)
		convs.POST("/insights/generate", a.generateInsights)

		api.GET("/entities/:entityID/connections", a.entityConnections)
	}
	return router
}

// ============================================================================
// Conversations
// ============================================================================

func (a *app) startConversation(c *gin.Context) {
	var req startConversationRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	started, err := a.chat.StartConversation(c.Request.Context(), c.Param("userID"), req.Title)
	if err != nil {
		a.fail(c, "Failed to start conversation", err)
		return
	}
	c.JSON(http.StatusCreated, started)
}

func (a *app) listMessages(c *gin.Context) {
	messages, err := a.chat.Messages(c.Request.Context(), c.Param("conversationID"))
	if err != nil {
		a.fail(c, "Failed to load messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (a *app) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := a.chat.SendMessage(c.Request.Context(), c.Param("conversationID"), req.Content)
	if err != nil {
		a.fail(c, "Failed to process message", err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// streamMessage answers with server-sent events: one "chunk" per model delta, then "done" with the stored reply
func (a *app) streamMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	reply, err := a.chat.StreamMessage(ctx, c.Param("conversationID"), req.Content, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.SSEvent("chunk", chunk)
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		a.log.Error("Failed to stream message", zap.String("conversation_id", c.Param("conversationID")), zap.Error(err))
		c.SSEvent("error", gin.H{"error": publicMessage(err, "Failed to process message")})
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", reply)
	c.Writer.Flush()
}

func (a *app) conversationSummary(c *gin.Context) {
	text, err := a.chat.SummarizeConversation(c.Request.Context(), c.Param("conversationID"))
	if err != nil {
		a.fail(c, "Failed to summarize conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": text})
}

func (a *app) conversationInsights(c *gin.Context) {
	list, err := a.insights.ConversationInsights(c.Request.Context(), c.Param("conversationID"))
	if err != nil {
		a.fail(c, "Failed to load insights", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": nonNil(list)})
}

func (a *app) generateInsights(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := a.rows.GetConversation(ctx, c.Param("conversationID"))
	if err != nil {
		a.fail(c, "Failed to load conversation", err)
		return
	}

	recorded, result, err := a.processor.Generate(ctx, conv.UserID, conv.ID)
	if err != nil {
		a.fail(c, "Failed to generate insights", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"insights":      recorded,
		"created_nodes": result.Counts,
	})
}

// ============================================================================
// Insights
// ============================================================================

func (a *app) listInsights(c *gin.Context) {
	var q insightQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, err := a.insights.ListInsights(c.Request.Context(), c.Param("userID"), state.InsightFilter{
		Type:           q.Type,
		ConversationID: q.ConversationID,
		Limit:          q.Limit,
	})
	if err != nil {
		a.fail(c, "Failed to load insights", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": nonNil(list)})
}

func (a *app) insightAnalysis(c *gin.Context) {
	analysis, err := a.insights.Analyze(c.Request.Context(), c.Param("userID"))
	if err != nil {
		a.fail(c, "Failed to analyze insights", err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (a *app) insightCategories(c *gin.Context) {
	categories, err := a.insights.Categories(c.Request.Context(), c.Param("userID"))
	if err != nil {
		a.fail(c, "Failed to categorize insights", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (a *app) userOverview(c *gin.Context) {
	overview, err := a.chat.UserInsights(c.Request.Context(), c.Param("userID"))
	if err != nil {
		a.fail(c, "Failed to load insights", err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (a *app) userSummary(c *gin.Context) {
	c.JSON(http.StatusOK, a.summaries.GenerateUserSummary(c.Request.Context(), c.Param("userID")))
}

func (a *app) insightGraph(c *gin.Context) {
	view, err := a.views.InsightGraph(c.Request.Context(), c.Param("userID"))
	if err != nil {
		a.fail(c, "Failed to build insight graph", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ============================================================================
// Knowledge graph
// ============================================================================

func (a *app) knowledgeGraph(c *gin.Context) {
	var q knowledgeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	depth := q.Depth
	if depth == 0 {
		depth = constants.DefaultGraphDepth
	}

	sub, err := a.knowledge.UserGraph(c.Request.Context(), c.Param("userID"), depth)
	if err != nil {
		a.fail(c, "Failed to load knowledge graph", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (a *app) searchKnowledge(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := a.knowledge.SearchKnowledge(c.Request.Context(), c.Param("userID"), q.Q)
	if err != nil {
		a.fail(c, "Failed to search knowledge", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (a *app) patterns(c *gin.Context) {
	patterns, err := a.knowledge.Patterns(c.Request.Context(), c.Param("userID"))
	if err != nil {
		a.fail(c, "Failed to load patterns", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (a *app) entityConnections(c *gin.Context) {
	conns, err := a.knowledge.EntityConnections(c.Request.Context(), c.Param("entityID"))
	if err != nil {
		a.fail(c, "Failed to load entity connections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// deleteUser removes the user's rows and graph. The graph is only touched once the rows are gone.
func (a *app) deleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("userID")

	counts, err := a.rows.DeleteUser(ctx, userID)
	if err != nil {
		a.fail(c, "Failed to delete user data", err)
		return
	}
	nodes, err := a.knowledge.DeleteUserGraph(ctx, userID)
	if err != nil {
		a.fail(c, "Failed to delete user graph", err)
		return
	}

	a.log.Info("User deleted",
		zap.String("user_id", userID),
		zap.Int("conversations", counts.Conversations),
		zap.Int("insights", counts.Insights),
		zap.Int("graph_nodes", nodes),
	)
	c.JSON(http.StatusOK, gin.H{
		"conversations": counts.Conversations,
		"messages":      counts.Messages,
		"insights":      counts.Insights,
		"graph_nodes":   nodes,
	})
}

// ============================================================================
// Helpers
// ============================================================================

// fail maps err to a status code and writes a JSON error
func (a *app) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": publicMessage(err, msg)})
}

func statusFor(err error) int {
	var invalid state.ErrInvalidRecord
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage), errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error, fallback string) string {
	switch statusFor(err) {
	case http.StatusNotFound:
		return "Not found"
	case http.StatusBadRequest:
		return err.Error()
	default:
		return fallback
	}
}

func nonNil(list []state.Insight) []state.Insight {
	if list == nil {
		return []state.Insight{}
	}
	return list
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ginLogger logs each request through zap
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		)
	}
}
