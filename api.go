package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultTradeListLimit = 50
	maxTradeListLimit     = 500
)

type statusProvider interface {
	Status() SniperStatus
}

type tradeLister interface {
	ListTrades(ctx context.Context, limit int) ([]TradeRecord, error)
}

// APIInfo 静态信息，启动时确定
type APIInfo struct {
	Exchange       string
	Wallet         common.Address
	BaseToken      common.Address
	Factory        common.Address
	Router         common.Address
	ChainID        int64
	MinBaseReserve string
	TradeCap       string
}

type tradeView struct {
	ID           int64     `json:"id"`
	Pool         string    `json:"pool"`
	CounterToken string    `json:"counter_token"`
	BaseAmount   string    `json:"base_amount"`
	AmountIn     string    `json:"amount_in"`
	Quote        string    `json:"quote,omitempty"`
	MinOut       string    `json:"min_out,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAPIRouter 注册状态查询接口
func NewAPIRouter(info APIInfo, sniper statusProvider, trades tradeLister, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"exchange":         info.Exchange,
			"chain_id":         info.ChainID,
			"wallet":           info.Wallet.Hex(),
			"base_token":       info.BaseToken.Hex(),
			"factory":          info.Factory.Hex(),
			"router":           info.Router.Hex(),
			"min_base_reserve": info.MinBaseReserve,
			"trade_cap":        info.TradeCap,
			"sniper":           sniper.Status(),
		})
	})

	router.GET("/trades", func(c *gin.Context) {
		limit := defaultTradeListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > maxTradeListLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
				return
			}
			limit = parsed
		}

		records, err := trades.ListTrades(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		views := make([]tradeView, 0, len(records))
		for _, rec := range records {
			views = append(views, newTradeView(rec))
		}
		c.JSON(http.StatusOK, gin.H{"trades": views})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return router
}

func newTradeView(rec TradeRecord) tradeView {
	view := tradeView{
		ID:           rec.ID,
		Pool:         rec.Pool.Hex(),
		CounterToken: rec.CounterToken.Hex(),
		BaseAmount:   bigString(rec.BaseAmount),
		AmountIn:     bigString(rec.AmountIn),
		Quote:        bigString(rec.Quote),
		MinOut:       bigString(rec.MinOut),
		Status:       rec.Status,
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.TxHash != (common.Hash{}) {
		view.TxHash = rec.TxHash.Hex()
	}
	return view
}
