package i18n

import (
	"reflect"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// ParseLanguage maps a config value to a Language, defaulting to English.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zh", "zh-tw", "zh_tw", "zh-cn", "zh_cn":
		return LangZH
	}
	return LangEN
}

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting        string
	ConfigLoaded    string
	ServerListening string
	ShuttingDown    string
	StateLoaded     string
	StateSaved      string
	StateSaveFailed string
	DryRunMode      string

	// Orders
	OrderFilled      string
	OrderFilledPaper string
	OrderRejected    string
	OrderFailed      string
	NoPositionToSell string
	StateDiverged    string

	// Mode
	LiveEnabled    string
	LiveDisabled   string
	ForcedPaper    string
	BackendHealthy string
	BackendDown    string

	// Risk
	DailyLossLimitReached string
	DailyTradeLimit       string
	ConsecLossPause       string
	TrailingStopHit       string
	PositionMismatch      string

	// Strategy
	StrategySignal  string
	StrategyChanged string
	BacktestDone    string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:        "CryptoPiggy starting (mode: %s)",
	ConfigLoaded:    "Configuration loaded",
	ServerListening: "API server listening on :%s",
	ShuttingDown:    "Shutting down",
	StateLoaded:     "State loaded: %d positions, %d trades",
	StateSaved:      "State saved",
	StateSaveFailed: "State save failed: %v",
	DryRunMode:      "DRY-RUN: orders are simulated",

	OrderFilled:      "LIVE %s %s $%.2f @ %.2f (order %s)",
	OrderFilledPaper: "PAPER %s %s $%.2f @ %.2f",
	OrderRejected:    "Order rejected: %s",
	OrderFailed:      "Order failed on %s: %s",
	NoPositionToSell: "No open position in %s to sell",
	StateDiverged:    "Order %s was placed but local state was not saved: %v",

	LiveEnabled:    "LIVE TRADING ENABLED",
	LiveDisabled:   "Live trading disabled: %s",
	ForcedPaper:    "Forced back to PAPER mode: %s",
	BackendHealthy: "Backend healthy",
	BackendDown:    "Backend unhealthy: %s",

	DailyLossLimitReached: "Daily loss limit hit (%.2f%%), switched to paper",
	DailyTradeLimit:       "Daily trade limit reached (%d)",
	ConsecLossPause:       "%d consecutive losses, new entries paused",
	TrailingStopHit:       "Trailing stop hit on %s at %.2f",
	PositionMismatch:      "Exchange balance does not cover %s",

	StrategySignal:  "%s signal on %s: entry=%v exit=%v",
	StrategyChanged: "Active strategy set to %s",
	BacktestDone:    "Backtest %s: return %.2f%%, max drawdown %.2f%%, sharpe %.2f",
}

// Chinese messages
var messagesZH = Messages{
	Starting:        "CryptoPiggy 啟動中（模式：%s）",
	ConfigLoaded:    "配置已載入",
	ServerListening: "API 伺服器監聽於 :%s",
	ShuttingDown:    "正在關閉",
	StateLoaded:     "狀態已載入：%d 個持倉，%d 筆交易",
	StateSaved:      "狀態已保存",
	StateSaveFailed: "狀態保存失敗：%v",
	DryRunMode:      "模擬運行：訂單僅作模擬",

	OrderFilled:      "實盤 %s %s $%.2f @ %.2f（訂單 %s）",
	OrderFilledPaper: "模擬 %s %s $%.2f @ %.2f",
	OrderRejected:    "訂單被拒絕：%s",
	OrderFailed:      "訂單在 %s 失敗：%s",
	NoPositionToSell: "%s 沒有可賣出的持倉",
	StateDiverged:    "訂單 %s 已下單但本地狀態未保存：%v",

	LiveEnabled:    "已啟用實盤交易",
	LiveDisabled:   "已停用實盤交易：%s",
	ForcedPaper:    "已強制切回模擬模式：%s",
	BackendHealthy: "後端服務正常",
	BackendDown:    "後端服務異常：%s",

	DailyLossLimitReached: "觸及每日虧損上限（%.2f%%），已切回模擬",
	DailyTradeLimit:       "已達每日交易次數上限（%d）",
	ConsecLossPause:       "連續虧損 %d 次，暫停新開倉",
	TrailingStopHit:       "%s 觸發追蹤止損，價格 %.2f",
	PositionMismatch:      "交易所餘額不足以覆蓋 %s",

	StrategySignal:  "%s 於 %s 的訊號：進場=%v 出場=%v",
	StrategyChanged: "目前策略已切換為 %s",
	BacktestDone:    "回測 %s：報酬 %.2f%%，最大回撤 %.2f%%，夏普 %.2f",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	messages = For(lang)
}

// For returns the catalog of lang without changing the current language.
func For(lang Language) *Messages {
	if lang == LangZH {
		return &messagesZH
	}
	return &messagesEN
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
