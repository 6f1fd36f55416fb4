package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App 负责连接节点、组装各组件并管理其生命周期
type App struct {
	cfg        *AppConfig
	ethClient  *ethclient.Client
	exchange   *exchangeConfig
	wallet     *Wallet
	store      *TradeStore
	subscriber *LogSubscriber
	sniper     *Sniper
	server     *http.Server
}

// NewApp 连接 WebSocket 节点、派生钱包、读取基础币精度并创建各组件
func NewApp(ctx context.Context, cfg *AppConfig) (*App, error) {
	wallet, err := LoadWallet(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("钱包已加载", "address", wallet.Address, "path", wallet.Path)

	exchange, err := NewExchangeConfig(cfg)
	if err != nil {
		return nil, err
	}

	ethCli, err := ethclient.DialContext(ctx, cfg.WsRPCURL)
	if err != nil {
		return nil, fmt.Errorf("无法创建以太坊客户端: %w", err)
	}

	app := &App{
		cfg:       cfg,
		ethClient: ethCli,
		exchange:  exchange,
		wallet:    wallet,
	}
	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	chainID, err := a.ethClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("获取链ID失败: %w", err)
	}
	if chainID.Int64() != a.cfg.ChainID {
		return fmt.Errorf("链ID不匹配: 节点 %s, 配置 %d", chainID, a.cfg.ChainID)
	}

	blockNumber, err := a.ethClient.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("获取区块高度失败: %w", err)
	}
	log.Info("节点已连接", "url", a.cfg.WsRPCURL, "chainID", chainID, "block", blockNumber)

	reader := NewChainReader(a.ethClient, a.exchange, a.wallet.Address)
	decimals, err := reader.TokenDecimals(ctx, a.cfg.BaseTokenAddress)
	if err != nil {
		return fmt.Errorf("读取基础币精度失败: %w", err)
	}
	balance, err := reader.WalletBalance(ctx)
	if err != nil {
		return err
	}
	log.Info("基础币信息", "token", a.cfg.BaseTokenAddress, "decimals", decimals, "walletBalance", balance)

	a.store, err = NewTradeStore(a.cfg.SQLitePath)
	if err != nil {
		return err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(a.wallet.PrivateKey, big.NewInt(a.cfg.ChainID))
	if err != nil {
		return fmt.Errorf("创建交易签名器失败: %w", err)
	}
	routerContract := bind.NewBoundContract(a.exchange.Router, *a.exchange.RouterABI, a.ethClient, a.ethClient, a.ethClient)
	waitMined := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, a.ethClient, tx)
	}
	executor := NewSwapExecutor(routerContract, waitMined, auth, a.cfg.BaseTokenAddress, a.cfg)

	events, err := NewEventQueue(a.cfg.EventQueueSize)
	if err != nil {
		return err
	}
	candidates, err := NewCandidateQueue(a.cfg.CandidateQueueSize)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewSniperMetrics(registry)

	decider := NewTradeDecider(a.cfg.BaseTokenAddress, decimals, a.cfg.MinBaseReserve, a.cfg.TradeCap)
	a.sniper = NewSniper(events, candidates, NewEventDecoder(a.exchange), NewPairTracker(a.cfg.MaxPendingMints, a.cfg.MaxCorrelatedPools),
		decider, reader, executor, a.store, metrics)
	a.subscriber = NewLogSubscriber(a.ethClient, a.exchange, events)

	info := APIInfo{
		Exchange:       a.exchange.Name,
		Wallet:         a.wallet.Address,
		BaseToken:      a.cfg.BaseTokenAddress,
		Factory:        a.exchange.Factory,
		Router:         a.exchange.Router,
		ChainID:        a.cfg.ChainID,
		MinBaseReserve: decider.MinBaseReserve().String(),
		TradeCap:       decider.TradeCap().String(),
	}
	a.server = &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           NewAPIRouter(info, a.sniper, a.store, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Run 并行运行日志订阅、狙击器与 HTTP 服务，任一退出则全部退出
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.subscriber.Start(ctx)
	})
	g.Go(func() error {
		return a.sniper.Run(ctx)
	})
	g.Go(func() error {
		log.Info("HTTP 服务启动", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务异常: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close 关闭节点连接与数据库
func (a *App) Close() error {
	if a.ethClient != nil {
		a.ethClient.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
