// Package db provides the SQLite-backed ledger store. Query helpers accept a
// Querier so callers can compose them inside a single transaction.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ----------------------------------------
// User queries
// ----------------------------------------

func CreateUser(ctx context.Context, q Querier, u User) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	return err
}

func GetUserByEmail(ctx context.Context, q Querier, email string) (*User, error) {
	var u User
	err := q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func GetUserByID(ctx context.Context, q Querier, id string) (*User, error) {
	var u User
	err := q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// ----------------------------------------
// Wallet queries
// ----------------------------------------

// GetWallet returns the wallet for (userID, currency), or nil if it does not
// exist yet. Wallets are created lazily on first credit.
func GetWallet(ctx context.Context, q Querier, userID, currency string) (*Wallet, error) {
	var w Wallet
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, currency, balance, locked_balance, created_at, updated_at
		FROM wallets WHERE user_id = ? AND currency = ?
	`, userID, currency).Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.LockedBalance, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query wallet: %w", err)
	}
	return &w, nil
}

func GetWalletsByUser(ctx context.Context, q Querier, userID string) ([]Wallet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, currency, balance, locked_balance, created_at, updated_at
		FROM wallets WHERE user_id = ? ORDER BY currency
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.LockedBalance, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// CreditWallet adds amount to the spendable balance, creating the wallet on
// first credit of a new currency.
func CreditWallet(ctx context.Context, q Querier, userID, currency string, amount float64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, currency) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = CURRENT_TIMESTAMP
	`, uuid.NewString(), userID, currency, amount)
	return err
}

// DebitWallet subtracts amount from the spendable balance. The balance guard
// in the WHERE clause makes insufficient funds structurally impossible.
func DebitWallet(ctx context.Context, q Querier, userID, currency string, amount float64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND currency = ? AND balance >= ?
	`, amount, userID, currency, amount)
	if err != nil {
		return err
	}
	return requireRow(res, ErrInsufficientFunds)
}

// ReserveBalance moves amount from balance into locked_balance. Total
// exposure (balance + locked_balance) is invariant across this step.
func ReserveBalance(ctx context.Context, q Querier, userID, currency string, amount float64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - ?, locked_balance = locked_balance + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND currency = ? AND balance >= ?
	`, amount, amount, userID, currency, amount)
	if err != nil {
		return err
	}
	return requireRow(res, ErrInsufficientFunds)
}

// ReleaseLocked burns a reservation after the funds have left the platform.
func ReleaseLocked(ctx context.Context, q Querier, userID, currency string, amount float64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE wallets SET locked_balance = locked_balance - ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND currency = ? AND locked_balance >= ?
	`, amount, userID, currency, amount)
	if err != nil {
		return err
	}
	return requireRow(res, ErrInsufficientFunds)
}

// RefundLocked moves a reservation back into the spendable balance. This is
// the compensating step for failed withdrawals.
func RefundLocked(ctx context.Context, q Querier, userID, currency string, amount float64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE wallets SET balance = balance + ?, locked_balance = locked_balance - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND currency = ? AND locked_balance >= ?
	`, amount, amount, userID, currency, amount)
	if err != nil {
		return err
	}
	return requireRow(res, ErrInsufficientFunds)
}

func requireRow(res sql.Result, notHit error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notHit
	}
	return nil
}

// ----------------------------------------
// Trade queries
// ----------------------------------------

func InsertTrade(ctx context.Context, q Querier, t Trade) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, pair, side, order_kind, amount, price, total, fee, status, created_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Pair, t.Side, t.OrderKind, t.Amount, t.Price, t.Total, t.Fee, t.Status, t.CreatedAt, t.FilledAt)
	return err
}

// GetTradesByUser returns recent trades, optionally filtered by pair and status.
func GetTradesByUser(ctx context.Context, q Querier, userID, pair, status string, limit int) ([]Trade, error) {
	query := `
		SELECT id, user_id, pair, side, order_kind, amount, price, total, fee, status, created_at, filled_at
		FROM trades WHERE user_id = ?`
	args := []any{userID}
	if pair != "" {
		query += " AND pair = ?"
		args = append(args, pair)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.Pair, &t.Side, &t.OrderKind, &t.Amount, &t.Price, &t.Total, &t.Fee, &t.Status, &t.CreatedAt, &t.FilledAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Transaction queries
// ----------------------------------------

func InsertTransaction(ctx context.Context, q Querier, t Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, currency, amount, fee, status, external_id, tx_hash, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Type, t.Currency, t.Amount, t.Fee, t.Status, t.ExternalID, t.TxHash, t.Address, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTransactionByCorrelation looks a transaction up by the gateway uuid
// first, falling back to the locally generated order id. An empty uuid never
// matches: rows without a gateway id must only be reached through the order
// id.
func GetTransactionByCorrelation(ctx context.Context, q Querier, uuid, orderID string) (*Transaction, error) {
	var t Transaction
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, type, currency, amount, fee, status, COALESCE(external_id, ''),
		       COALESCE(tx_hash, ''), COALESCE(address, ''), created_at, updated_at
		FROM transactions WHERE (? != '' AND external_id = ?) OR id = ?
		LIMIT 1
	`, uuid, uuid, orderID).Scan(&t.ID, &t.UserID, &t.Type, &t.Currency, &t.Amount, &t.Fee, &t.Status,
		&t.ExternalID, &t.TxHash, &t.Address, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &t, nil
}

func SetTransactionExternalID(ctx context.Context, q Querier, id, externalID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE transactions SET external_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, externalID, id)
	return err
}

func UpdateTransactionStatus(ctx context.Context, q Querier, id, status string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE transactions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// CompleteTransaction marks a transaction COMPLETED, recording the settled
// amount, actual fee and on-chain reference reported by the gateway.
func CompleteTransaction(ctx context.Context, q Querier, id string, amount, fee float64, txHash string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE transactions SET status = ?, amount = ?, fee = ?, tx_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, TxStatusCompleted, amount, fee, txHash, id)
	return err
}

func GetTransactionsByUser(ctx context.Context, q Querier, userID, txType, currency string, limit int) ([]Transaction, error) {
	query := `
		SELECT id, user_id, type, currency, amount, fee, status, COALESCE(external_id, ''),
		       COALESCE(tx_hash, ''), COALESCE(address, ''), created_at, updated_at
		FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if txType != "" {
		query += " AND type = ?"
		args = append(args, txType)
	}
	if currency != "" {
		query += " AND currency = ?"
		args = append(args, currency)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Currency, &t.Amount, &t.Fee, &t.Status,
			&t.ExternalID, &t.TxHash, &t.Address, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ----------------------------------------
// Trading bot queries
// ----------------------------------------

const botColumns = `id, user_id, pair, strategy, enabled, investment, interval_minutes,
	holdings, total_invested, avg_entry_price, total_profit, trades_count,
	last_trade_at, params, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (*TradingBot, error) {
	var b TradingBot
	err := row.Scan(&b.ID, &b.UserID, &b.Pair, &b.Strategy, &b.Enabled, &b.Investment, &b.Interval,
		&b.Holdings, &b.TotalInvested, &b.AvgEntryPrice, &b.TotalProfit, &b.TradesCount,
		&b.LastTradeAt, &b.Params, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func InsertBot(ctx context.Context, q Querier, b TradingBot) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trading_bots (id, user_id, pair, strategy, enabled, investment, interval_minutes, params, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, b.Pair, b.Strategy, b.Enabled, b.Investment, b.Interval, b.Params, b.CreatedAt, b.UpdatedAt)
	return err
}

func GetBotByID(ctx context.Context, q Querier, userID, botID string) (*TradingBot, error) {
	b, err := scanBot(q.QueryRowContext(ctx,
		"SELECT "+botColumns+" FROM trading_bots WHERE id = ? AND user_id = ?", botID, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bot: %w", err)
	}
	return b, nil
}

func GetBotByPairStrategy(ctx context.Context, q Querier, userID, pair, strategy string) (*TradingBot, error) {
	return scanBotRow(q.QueryRowContext(ctx,
		"SELECT "+botColumns+" FROM trading_bots WHERE user_id = ? AND pair = ? AND strategy = ?",
		userID, pair, strategy))
}

func scanBotRow(row *sql.Row) (*TradingBot, error) {
	b, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bot: %w", err)
	}
	return b, nil
}

func ListBotsByUser(ctx context.Context, q Querier, userID string) ([]TradingBot, error) {
	return listBots(ctx, q, "SELECT "+botColumns+" FROM trading_bots WHERE user_id = ? ORDER BY created_at DESC", userID)
}

// ListEnabledBots returns every enabled bot across all users, the scheduler's
// work list.
func ListEnabledBots(ctx context.Context, q Querier) ([]TradingBot, error) {
	return listBots(ctx, q, "SELECT "+botColumns+" FROM trading_bots WHERE enabled = 1 ORDER BY created_at")
}

func listBots(ctx context.Context, q Querier, query string, args ...any) ([]TradingBot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []TradingBot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

func UpdateBotConfig(ctx context.Context, q Querier, b TradingBot) error {
	_, err := q.ExecContext(ctx, `
		UPDATE trading_bots SET enabled = ?, investment = ?, interval_minutes = ?, params = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, b.Enabled, b.Investment, b.Interval, b.Params, b.ID, b.UserID)
	return err
}

// UpdateBotStats overwrites the accumulation fields after a settled bot trade.
func UpdateBotStats(ctx context.Context, q Querier, b TradingBot) error {
	_, err := q.ExecContext(ctx, `
		UPDATE trading_bots SET holdings = ?, total_invested = ?, avg_entry_price = ?,
			total_profit = ?, trades_count = ?, last_trade_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, b.Holdings, b.TotalInvested, b.AvgEntryPrice, b.TotalProfit, b.TradesCount, b.LastTradeAt, b.ID)
	return err
}

func DeleteBot(ctx context.Context, q Querier, userID, botID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM trading_bots WHERE id = ? AND user_id = ?`, botID, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotFound)
}

func InsertBotTrade(ctx context.Context, q Querier, t BotTrade) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bot_trades (id, bot_id, side, amount, price, total, fee, profit, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BotID, t.Side, t.Amount, t.Price, t.Total, t.Fee, t.Profit, t.Reason, t.CreatedAt)
	return err
}

func ListBotTrades(ctx context.Context, q Querier, botID string, limit int) ([]BotTrade, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, bot_id, side, amount, price, total, fee, profit, COALESCE(reason, ''), created_at
		FROM bot_trades WHERE bot_id = ? ORDER BY created_at DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bot trades: %w", err)
	}
	defer rows.Close()

	var trades []BotTrade
	for rows.Next() {
		var t BotTrade
		if err := rows.Scan(&t.ID, &t.BotID, &t.Side, &t.Amount, &t.Price, &t.Total, &t.Fee, &t.Profit, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bot trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// BotSummary aggregates fleet-wide execution figures.
type BotSummary struct {
	ActiveBots  int
	TotalBots   int
	TotalTrades int
	TotalProfit float64
	TotalFees   float64
}

func GetBotSummary(ctx context.Context, q Querier) (*BotSummary, error) {
	var s BotSummary
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM trading_bots WHERE enabled = 1),
			(SELECT COUNT(*) FROM trading_bots),
			(SELECT COUNT(*) FROM bot_trades),
			(SELECT COALESCE(SUM(profit), 0) FROM bot_trades),
			(SELECT COALESCE(SUM(fee), 0) FROM bot_trades)
	`).Scan(&s.ActiveBots, &s.TotalBots, &s.TotalTrades, &s.TotalProfit, &s.TotalFees)
	if err != nil {
		return nil, fmt.Errorf("query bot summary: %w", err)
	}
	return &s, nil
}

// ----------------------------------------
// Platform settings queries
// ----------------------------------------

// GetPlatformSettings loads the singleton row, inserting defaults on first
// read so callers always see a fully populated configuration.
func GetPlatformSettings(ctx context.Context, q Querier) (*PlatformSettings, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO platform_settings (id) VALUES (1) ON CONFLICT(id) DO NOTHING
	`); err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}

	var s PlatformSettings
	err := q.QueryRowContext(ctx, `
		SELECT trading_mode, exchange_api_key, exchange_api_secret,
		       deposit_fee, withdrawal_fee, trading_fee, updated_at
		FROM platform_settings WHERE id = 1
	`).Scan(&s.TradingMode, &s.ExchangeAPIKey, &s.ExchangeAPISecret,
		&s.DepositFee, &s.WithdrawalFee, &s.TradingFee, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	return &s, nil
}

func UpdatePlatformSettings(ctx context.Context, q Querier, s PlatformSettings) error {
	_, err := q.ExecContext(ctx, `
		UPDATE platform_settings SET trading_mode = ?, exchange_api_key = ?, exchange_api_secret = ?,
			deposit_fee = ?, withdrawal_fee = ?, trading_fee = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, s.TradingMode, s.ExchangeAPIKey, s.ExchangeAPISecret, s.DepositFee, s.WithdrawalFee, s.TradingFee)
	return err
}
