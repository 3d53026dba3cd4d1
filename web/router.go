package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const maxInboxBody = 1 << 20

const routedKey = "pubcore.request"

// RouterOptions configures the HTTP front-end.
type RouterOptions struct {
	Instance *activitypub.Instance
	Logger   *log.Logger
	// VerifySignatures rejects inbox posts without a valid HTTP signature.
	VerifySignatures bool
	// GlobalLimit and InboxLimit are requests per second per client IP.
	GlobalLimit rate.Limit
	InboxLimit  rate.Limit
	// Context bounds the goroutines pruning idle rate limiters. Without
	// one no pruner runs.
	Context context.Context
}

type router struct {
	inst   *activitypub.Instance
	logger *log.Logger
}

// NewRouter builds the gin engine serving the engine verbs and RSS feeds.
func NewRouter(opts RouterOptions) *gin.Engine {
	if opts.GlobalLimit == 0 {
		opts.GlobalLimit = 10
	}
	if opts.InboxLimit == 0 {
		opts.InboxLimit = 5
	}

	rt := &router{inst: opts.Instance, logger: opts.Logger}

	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(opts.Logger))
	g.Use(gzip.Gzip(gzip.DefaultCompression))
	global := NewRateLimiter(opts.GlobalLimit, int(opts.GlobalLimit)*2)
	inboxLimiter := NewRateLimiter(opts.InboxLimit, int(opts.InboxLimit)*2)
	if opts.Context != nil {
		go global.Run(opts.Context, pruneInterval)
		go inboxLimiter.Run(opts.Context, pruneInterval)
	}
	g.Use(RateLimitMiddleware(global))

	g.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, util.GetNameAndVersion())
	})

	inbox := []gin.HandlerFunc{
		RateLimitMiddleware(inboxLimiter),
		MaxBytesMiddleware(maxInboxBody),
	}
	if opts.VerifySignatures {
		inbox = append(inbox, SignatureMiddleware(opts.Instance, opts.Logger))
	}

	handlers := []gin.HandlerFunc{rt.resolve}
	for _, h := range inbox {
		handlers = append(handlers, onlyInbox(h))
	}
	handlers = append(handlers, rt.dispatch)
	g.NoRoute(handlers...)

	return g
}

// resolve routes the path and stores the engine request in the context.
func (rt *router) resolve(c *gin.Context) {
	req, method, ok := Route(c.Request.URL.Path)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if c.Request.Method != method && !(method == http.MethodGet && c.Request.Method == http.MethodHead) {
		c.Header("Allow", method)
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}
	if req.Verb == activitypub.VerbWebFinger {
		req.Resource = c.Query("resource")
	}
	c.Set(routedKey, req)
	c.Next()
}

func routed(c *gin.Context) (activitypub.Request, bool) {
	v, ok := c.Get(routedKey)
	if !ok {
		return activitypub.Request{}, false
	}
	req, ok := v.(activitypub.Request)
	return req, ok
}

func onlyInbox(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if req, ok := routed(c); ok && req.Verb == activitypub.VerbInbox {
			h(c)
			return
		}
		c.Next()
	}
}

func (rt *router) dispatch(c *gin.Context) {
	req, ok := routed(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	if req.Verb == verbFeed {
		rt.feed(c, req.Account)
		return
	}

	if req.Verb == activitypub.VerbInbox {
		body, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
			return
		}
		req.RawBody = body
	}

	resp := rt.inst.Handle(c.Request.Context(), req)
	c.Data(resp.Status, resp.ContentType+"; charset=utf-8", resp.Body)
}

func (rt *router) feed(c *gin.Context, account string) {
	rss, err := GetRSS(rt.inst, account)
	if err != nil {
		rt.logger.Debug("Feed unavailable", "account", account, "err", err)
		c.String(http.StatusNotFound, "")
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"took", time.Since(start))
	}
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("Stopping HTTP server")
		return srv.Shutdown(shutdown)
	}
}
