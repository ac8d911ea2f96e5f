package mcp_interface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/application"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const (
	NodeInfoURI = "resource://lightning/node/info"

	TransportHTTP  = "http"
	TransportStdio = "stdio"

	qrCodeSize = 256
)

type Config struct {
	Name              string
	Version           string
	Host              string
	Port              uint32
	Transport         string
	Network           domain.Network
	MaxCallsPerSecond float64
}

func (c Config) address() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

type service struct {
	cfg        Config
	appSvc     *application.Service
	dispatcher *Dispatcher
	mcpServer  *mcp.Server
	router     *gin.Engine
	httpServer *http.Server

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewService(cfg Config, appSvc *application.Service) (*service, error) {
	if cfg.Transport != TransportHTTP && cfg.Transport != TransportStdio {
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	dispatcher, err := NewDispatcher(appSvc, cfg.MaxCallsPerSecond)
	if err != nil {
		return nil, err
	}

	svc := &service{
		cfg:        cfg,
		appSvc:     appSvc,
		dispatcher: dispatcher,
		doneCh:     make(chan struct{}),
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	for _, t := range dispatcher.Tools() {
		mcpServer.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, svc.toolHandler(t.Name))
	}
	mcpServer.AddResource(&mcp.Resource{
		URI:         NodeInfoURI,
		Name:        "node_info",
		Description: "Implementation, network and channels of the Lightning node",
		MIMEType:    "application/json",
	}, svc.readNodeInfo)
	svc.mcpServer = mcpServer

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.GET("/health", svc.health)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)
	router.Any("/mcp", gin.WrapH(mcpHandler))
	svc.router = router

	svc.httpServer = &http.Server{
		Addr:              cfg.address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return svc, nil
}

func (s *service) Start() error {
	if s.cfg.Transport == TransportStdio {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go func() {
			defer close(s.doneCh)
			if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil &&
				!errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("stdio session ended")
			}
		}()
		log.Info("serving MCP over stdio")
		return nil
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		defer close(s.doneCh)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()
	log.Infof("started MCP server at http://%s/mcp", s.httpServer.Addr)
	return nil
}

// Done is closed when the transport stops serving, e.g. when the stdio
// client goes away.
func (s *service) Done() <-chan struct{} {
	return s.doneCh
}

func (s *service) Stop() {
	if s.cancel != nil {
		s.cancel()
		log.Info("stopped stdio server")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// nolint:all
	s.httpServer.Shutdown(ctx)
	log.Info("stopped HTTP server")
}

func (s *service) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}

		result, err := s.dispatcher.Dispatch(ctx, name, args)
		if err != nil {
			return errorToolResult(err), nil
		}

		buf, err := json.Marshal(result)
		if err != nil {
			return errorToolResult(err), nil
		}
		content := []mcp.Content{&mcp.TextContent{Text: string(buf)}}

		if invoice, ok := result.(*domain.Invoice); ok {
			png, err := qrcode.Encode(invoice.PaymentRequest, qrcode.Medium, qrCodeSize)
			if err != nil {
				log.WithError(err).Warn("failed to encode invoice qr code")
			} else {
				content = append(content, &mcp.ImageContent{Data: png, MIMEType: "image/png"})
			}
		}
		return &mcp.CallToolResult{Content: content}, nil
	}
}

func errorToolResult(err error) *mcp.CallToolResult {
	// nolint
	buf, _ := json.Marshal(NewErrorResult(err))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(buf)}},
		IsError: true,
	}
}

type nodeInfoResource struct {
	Implementation domain.Implementation `json:"implementation"`
	Network        domain.Network        `json:"network"`
	Version        string                `json:"version"`
	Pubkey         string                `json:"pubkey,omitempty"`
	Alias          string                `json:"alias,omitempty"`
	Channels       int                   `json:"channels"`
	Status         string                `json:"status"`
}

// nodeInfo reports the node through the backend and falls back to the
// configured values when the backend is unreachable.
func (s *service) nodeInfo(ctx context.Context) nodeInfoResource {
	res := nodeInfoResource{
		Implementation: s.appSvc.Implementation(),
		Network:        s.cfg.Network,
		Version:        s.cfg.Version,
		Status:         "ok",
	}
	info, err := s.appSvc.GetNodeInfo(ctx)
	if err != nil {
		res.Status = fmt.Sprintf("error: %s", err)
		return res
	}
	if info.Network != "" {
		res.Network = info.Network
	}
	res.Pubkey = info.Pubkey
	res.Alias = info.Alias
	res.Channels = info.NumChannels
	return res
}

func (s *service) readNodeInfo(
	ctx context.Context, req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	buf, err := json.Marshal(s.nodeInfo(ctx))
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      NodeInfoURI,
			MIMEType: "application/json",
			Text:     string(buf),
		}},
	}, nil
}

func (s *service) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"node_info": gin.H{
			"name":           s.cfg.Name,
			"implementation": s.appSvc.Implementation(),
			"network":        s.cfg.Network,
			"version":        s.cfg.Version,
		},
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("http request")
	}
}
