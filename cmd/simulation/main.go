package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meridianx/venue-api/internal/auth"
	"github.com/meridianx/venue-api/internal/cache"
	"github.com/meridianx/venue-api/internal/config"
	"github.com/meridianx/venue-api/internal/database"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/ledger"
	"github.com/meridianx/venue-api/internal/matching"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/pricing"
	"github.com/meridianx/venue-api/internal/router"
	"github.com/meridianx/venue-api/internal/settlement"
	"github.com/meridianx/venue-api/internal/spread"
	"github.com/meridianx/venue-api/internal/trading"
	"github.com/meridianx/venue-api/internal/types"
	"github.com/meridianx/venue-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"

	apiKey    = "demo-api-key"
	apiSecret = "demo-api-secret"

	// Treasury desk that takes the other side of every simulated trade.
	counterpartyID = "DESK_TREASURY"

	jwtSecret = "venue-dev-secret"
)

var sides = []string{"BUY", "SELL"}

// pairs maps each simulated trading pair to the largest order size the
// generator will submit. Sizes are kept small relative to the seeded
// pool depth so routing stays inside the price-impact limit.
var pairs = []struct {
	base      string
	quote     string
	maxAmount float64
}{
	{base: "BTC", quote: "USD", maxAmount: 0.25},
	{base: "ETH", quote: "USD", maxAmount: 4.0},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the venue API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"place":   {name: "Place Order"},
			"execute": {name: "Execute Order"},
			"get":     {name: "Get Order"},
			"spread":  {name: "Get Spread"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// placeOrder submits a new order to the API
// Returns the order ID on success
func (sc *simulationClient) placeOrder(req trading.PlaceOrderRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["place"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Place order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("place order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.OrderID == "" {
		return "", fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	return result.Data.OrderID, nil
}

// executeOrder routes and settles an existing order against the desk
// Returns the settlement outcome on success
func (sc *simulationClient) executeOrder(orderID string) (*settlement.Result, error) {
	start := time.Now()
	defer func() {
		sc.stats["execute"].addDuration(time.Since(start))
	}()

	if orderID == "" {
		return nil, fmt.Errorf("orderID cannot be empty")
	}

	body, err := json.Marshal(map[string]string{"counterparty_id": counterpartyID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/internal/orders/%s/execute", sc.baseURL, orderID),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Execute order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("execute order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool              `json:"success"`
		Data    settlement.Result `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getOrder retrieves the current status of an order
func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Get order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getSpread retrieves the controller's last spread calculation for a pool
func (sc *simulationClient) getSpread(poolID string) (*spread.Snapshot, error) {
	start := time.Now()
	defer func() {
		sc.stats["spread"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/internal/spread/%s", sc.baseURL, poolID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get spread failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool            `json:"success"`
		Data    spread.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the trading simulation
// It starts a local venue server, seeds liquidity, and drives concurrent order flow
func main() {
	poolIDs, err := startServer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	ordersChan := make(chan string, targetOrders)

	var g errgroup.Group
	for i := 0; i < numWorkers; i++ {
		workerID := i
		g.Go(func() error {
			createOrdersHTTP(workerID, targetOrders/numWorkers, simClient, ordersChan)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Order generation failed")
	}
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}

	log.Info().Int("orders_created", len(orderIDs)).Msg("All orders created")

	stats := struct {
		TotalOrders   int
		SettledOrders int
		SplitOrders   int
		RolledBack    int
		FailedOrders  int
		TotalValue    float64
		StartTime     time.Time
		Pairs         map[string]int
		Sides         map[string]int
	}{
		StartTime: time.Now(),
		Pairs:     make(map[string]int),
		Sides:     make(map[string]int),
	}

	stats.TotalOrders = len(orderIDs)

	for _, orderID := range orderIDs {
		if orderID == "" {
			log.Error().Msg("Empty order ID encountered, skipping")
			stats.FailedOrders++
			continue
		}

		result, err := simClient.executeOrder(orderID)
		if err != nil {
			log.Error().Err(err).
				Str("order_id", orderID).
				Msg("Failed to execute order")
			stats.FailedOrders++
			continue
		}

		if !result.Success {
			stats.RolledBack++
			log.Warn().
				Str("order_id", orderID).
				Str("saga_id", result.SagaID).
				Strs("compensated_steps", result.CompensatedSteps).
				Str("error", result.Error).
				Msg("Order rolled back")
			continue
		}

		stats.SettledOrders++
		if result.Execution != nil {
			stats.TotalValue += result.Execution.AveragePrice * result.Execution.TotalAmount
		}
		if fillCount(result) > 1 {
			stats.SplitOrders++
		}

		order, err := simClient.getOrder(orderID)
		if err == nil && order != nil {
			stats.Pairs[order.Pair()]++
			stats.Sides[order.Side]++
		}

		log.Info().
			Str("order_id", orderID).
			Str("saga_id", result.SagaID).
			Int("fills", fillCount(result)).
			Msg("Order settled")
	}

	// Poll the spread controller so its reaction to the generated flow
	// shows up in the run output.
	for _, poolID := range poolIDs {
		snapshot, err := simClient.getSpread(poolID)
		if err != nil {
			log.Warn().Err(err).Str("pool_id", poolID).Msg("No spread snapshot")
			continue
		}
		log.Info().
			Str("pool_id", poolID).
			Float64("spread_bps", snapshot.SpreadBps).
			Str("trigger", snapshot.Trigger).
			Msg("Final spread")
	}

	printSummary(stats.TotalOrders, stats.SettledOrders, stats.SplitOrders,
		stats.RolledBack, stats.FailedOrders, stats.TotalValue,
		time.Since(stats.StartTime), stats.Pairs, stats.Sides)

	simClient.printPerformanceStats()
}

func fillCount(result *settlement.Result) int {
	if result.Execution == nil {
		return 0
	}
	return len(result.Execution.Fills)
}

func printSummary(total, settled, split, rolledBack, failed int, totalValue float64,
	duration time.Duration, pairCounts, sideCounts map[string]int) {

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 VENUE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Order Statistics
------------------
Total Orders:     %d
Settled:          %d
Split Routed:     %d
Rolled Back:      %d
Failed Orders:    %d
Total Value:      $%.2f
Duration:         %v

📈 Pair Distribution
--------------------
`, total, settled, split, rolledBack, failed, totalValue, duration.Round(time.Millisecond))

	maxPairCount := 0
	for _, count := range pairCounts {
		if count > maxPairCount {
			maxPairCount = count
		}
	}

	for pair, count := range pairCounts {
		barLength := int(float64(count) / float64(maxPairCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-8s: %s (%d)\n", pair, bar, count)
	}

	fmt.Println("\n📉 Side Distribution")
	fmt.Println("------------------")
	for side, count := range sideCounts {
		barLength := int(float64(count) / float64(total) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := float64(settled) / float64(total) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_orders", total).
		Int("settled_orders", settled).
		Float64("total_value", totalValue).
		Dur("duration", duration).
		Msg("Simulation completed")
}

// createOrdersHTTP generates and submits random orders to the API
// Runs as a worker goroutine, sending created order IDs to ordersChan
func createOrdersHTTP(workerID, numOrders int, simClient *simulationClient, ordersChan chan<- string) {
	for i := 0; i < numOrders; i++ {
		pair := pairs[rand.Intn(len(pairs))]
		req := trading.PlaceOrderRequest{
			Side:          sides[rand.Intn(len(sides))],
			BaseCurrency:  pair.base,
			QuoteCurrency: pair.quote,
			Amount:        pair.maxAmount * (0.05 + 0.95*rand.Float64()),
		}

		orderID, err := simClient.placeOrder(req)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("pair", pair.base+"/"+pair.quote).
				Msg("Failed to place order")
			continue
		}

		ordersChan <- orderID
		log.Info().
			Int("worker_id", workerID).
			Str("order_id", orderID).
			Str("pair", pair.base+"/"+pair.quote).
			Str("side", req.Side).
			Float64("amount", req.Amount).
			Msg("Order placed")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer wires the full venue stack against a throwaway database,
// seeds pools and ledger balances, and serves the API in the background.
// Returns the seeded pool IDs so the run report can query their spreads.
func startServer() ([]string, error) {
	db, err := database.Connect("simulation.db")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	bus := events.NewBus(256)
	store := cache.NewMemoryStore()
	prices := pricing.NewStaticProvider()

	pools := pool.NewService(db, bus)
	funds := ledger.NewService(db)
	orders := trading.NewService(db, bus)

	liquidityRouter := router.NewRouter(pools, prices, orders, bus)
	engine := matching.NewEngine(pools, bus)
	saga := settlement.NewSaga(db, funds, orders, engine)
	orders.BindExecution(liquidityRouter, saga)

	spreadController := spread.NewController(pools, prices, store, bus, config.DefaultSpread())
	spreadController.Register(bus)

	poolIDs, err := seedVenue(pools, funds)
	if err != nil {
		return nil, fmt.Errorf("failed to seed venue: %w", err)
	}

	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(apiKey, apiSecret)

	gin.SetMode(gin.ReleaseMode)
	app := gin.New()
	app.Use(gin.Recovery())

	authHandlers := auth.NewGinHandlers(authService)
	orderHandlers := trading.NewGinHandlers(orders)
	poolHandlers := pool.NewGinHandlers(pools)
	spreadHandlers := spread.NewGinHandlers(spreadController)

	// No rate limiter here so the load pattern reflects the venue, not
	// the limiter.
	api := app.Group("/api/v1")
	api.POST("/auth/token", authHandlers.GenerateTokenHandler())

	protected := api.Group("")
	protected.Use(middleware.JWTAuth(jwtSecret))
	{
		protected.POST("/orders", orderHandlers.PlaceOrderHandler())
		protected.GET("/orders/:order_id", orderHandlers.GetOrderHandler())
		protected.GET("/pools", poolHandlers.ListPoolsHandler())
	}

	internal := api.Group("/internal")
	internal.Use(middleware.InternalAuth(jwtSecret))
	{
		internal.POST("/orders/:order_id/execute", orderHandlers.ExecuteOrderHandler())
		internal.GET("/spread/:pool_id", spreadHandlers.GetSnapshotHandler())
	}

	go func() {
		if err := app.Run(":8080"); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	return poolIDs, nil
}

// seedVenue creates deep pools for each simulated pair and funds both
// sides of every trade. The trading client draws its quote lock and its
// payment leg from the same balance, so it is funded well past the sum
// of all order values.
func seedVenue(pools *pool.Service, funds *ledger.Service) ([]string, error) {
	seeds := []struct {
		base        string
		quote       string
		baseAmount  decimal.Decimal
		quoteAmount decimal.Decimal
	}{
		{"BTC", "USD", decimal.NewFromInt(100), decimal.NewFromInt(5_000_000)},
		{"ETH", "USD", decimal.NewFromInt(2_000), decimal.NewFromInt(6_000_000)},
	}

	var poolIDs []string
	for _, seed := range seeds {
		p, err := pools.CreatePool(seed.base, seed.quote, 30, 30)
		if err != nil {
			return nil, err
		}
		if _, err := pools.AddLiquidity(p.PoolID, "LP_GENESIS",
			seed.baseAmount, seed.quoteAmount, decimal.Zero); err != nil {
			return nil, err
		}
		poolIDs = append(poolIDs, p.PoolID)
	}

	balances := []struct {
		account  string
		currency string
		amount   decimal.Decimal
	}{
		{apiKey, "USD", decimal.NewFromInt(50_000_000)},
		{apiKey, "BTC", decimal.NewFromInt(500)},
		{apiKey, "ETH", decimal.NewFromInt(10_000)},
		{counterpartyID, "USD", decimal.NewFromInt(50_000_000)},
		{counterpartyID, "BTC", decimal.NewFromInt(500)},
		{counterpartyID, "ETH", decimal.NewFromInt(10_000)},
	}
	for _, b := range balances {
		if err := funds.Deposit(b.account, b.currency, b.amount, "SIM_SEED"); err != nil {
			return nil, err
		}
	}

	return poolIDs, nil
}
