// Package bot はNextcloud Talkの会話を巡回し、トリガー語に営業状況で返信するボットを提供する。
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/venuestatus/internal/metrics"
	"github.com/hitoshi/venuestatus/internal/talk"
)

// TalkClient はチャットサーバーとのやり取りを抽象化するインターフェース。
type TalkClient interface {
	ListConversations(ctx context.Context) ([]talk.Conversation, error)
	FetchMessages(ctx context.Context, token string) []talk.Message
	SendMessage(ctx context.Context, token, message string) error
}

// StatusQuerier はステータスAPIの照会インターフェース。
type StatusQuerier interface {
	Query(ctx context.Context) (RemoteStatus, error)
}

// Recorder はボットのメトリクス記録インターフェース。
type Recorder interface {
	RecordBotReply(outcome string)
	SetSuspendedConversations(n int)
}

// DefaultTriggerWords はデフォルトのトリガー語。
var DefaultTriggerWords = []string{
	"nippes",
	"ist das nippes offen",
	"nippes status",
	"ist das nippes geöffnet",
	"nippes heute",
}

// Config はPollerの設定パラメータ。
type Config struct {
	// BotUsername はボット自身のアクターID。自分のメッセージは無視する。
	BotUsername  string
	TriggerWords []string
	// PassInterval は全会話の巡回間隔（デフォルト: 5秒）。
	PassInterval time.Duration
	// ConversationInterval は同一会話の最小ポーリング間隔（デフォルト: 10秒）。
	ConversationInterval time.Duration
	// EmptyBackoff は会話一覧が空の場合の待機時間（デフォルト: 30秒）。
	EmptyBackoff time.Duration
	// MaxConsecutiveErrors を超えて連続失敗した会話は停止する（デフォルト: 10）。
	MaxConsecutiveErrors int
	DedupCapacity        int
	// ReplyRatePerMin は会話ごとの1分あたりの最大返信数。0以下は無制限。
	ReplyRatePerMin int
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		TriggerWords:         DefaultTriggerWords,
		PassInterval:         5 * time.Second,
		ConversationInterval: 10 * time.Second,
		EmptyBackoff:         30 * time.Second,
		MaxConsecutiveErrors: 10,
		DedupCapacity:        1000,
		ReplyRatePerMin:      6,
	}
}

// conversationState は会話ごとのポーリング状態。
type conversationState struct {
	lastPolledAt      time.Time
	consecutiveErrors int
	suspended         bool
	limiter           *rate.Limiter
}

// resumeAll はResumeAllを表す再開要求。
const resumeAll = ""

// Poller は会話を巡回してトリガーに返信する。
// 会話状態と処理済み集合は実行中のgoroutineだけが触る。
// 外部からの再開要求はチャネル経由で受け取る。
type Poller struct {
	talk      TalkClient
	status    StatusQuerier
	sanitizer Sanitizer
	recorder  Recorder
	logger    *slog.Logger
	config    Config
	triggers  []string

	dedup    *DedupSet
	states   map[string]*conversationState
	resumeCh chan string
	now      func() time.Time
}

// NewPoller はPollerの新しいインスタンスを生成する。
// sanitizerとrecorderはnilでもよい。
func NewPoller(
	talkClient TalkClient,
	status StatusQuerier,
	sanitizer Sanitizer,
	recorder Recorder,
	logger *slog.Logger,
	config Config,
) *Poller {
	def := DefaultConfig()
	if len(config.TriggerWords) == 0 {
		config.TriggerWords = def.TriggerWords
	}
	if config.PassInterval <= 0 {
		config.PassInterval = def.PassInterval
	}
	if config.EmptyBackoff <= 0 {
		config.EmptyBackoff = def.EmptyBackoff
	}
	if config.MaxConsecutiveErrors <= 0 {
		config.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if config.DedupCapacity <= 0 {
		config.DedupCapacity = def.DedupCapacity
	}

	triggers := make([]string, 0, len(config.TriggerWords))
	for _, w := range config.TriggerWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			triggers = append(triggers, w)
		}
	}

	return &Poller{
		talk:      talkClient,
		status:    status,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		config:    config,
		triggers:  triggers,
		dedup:     NewDedupSet(config.DedupCapacity),
		states:    make(map[string]*conversationState),
		resumeCh:  make(chan string, 64),
		now:       time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。テスト用。
func (p *Poller) SetClock(now func() time.Time) {
	p.now = now
}

// Resume は停止中の会話の再開を要求する。次の巡回の前に反映される。
func (p *Poller) Resume(token string) {
	p.requestResume(token)
}

// ResumeAll は停止中のすべての会話の再開を要求する。
func (p *Poller) ResumeAll() {
	p.requestResume(resumeAll)
}

func (p *Poller) requestResume(token string) {
	select {
	case p.resumeCh <- token:
	default:
		p.logger.Warn("再開要求が多すぎるため破棄しました",
			slog.String("token", token),
		)
	}
}

// Run はctxがキャンセルされるまで巡回を繰り返す。
// 処理中の会話は最後まで処理してから終了する。
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("ボットを開始しました",
		slog.String("bot_username", p.config.BotUsername),
		slog.Duration("pass_interval", p.config.PassInterval),
		slog.Duration("conversation_interval", p.config.ConversationInterval),
		slog.Int("trigger_words", len(p.triggers)),
	)

	for {
		wait := p.RunOnce(ctx)
		if !p.sleep(ctx, wait) {
			p.logger.Info("ボットを停止しました")
			return nil
		}
	}
}

// RunOnce は全会話を1回巡回し、次の巡回までの待機時間を返す。
// 会話一覧が空または取得失敗の場合はEmptyBackoffを返す。
func (p *Poller) RunOnce(ctx context.Context) time.Duration {
	p.drainResume()

	conversations, err := p.talk.ListConversations(ctx)
	if err != nil {
		p.logger.Error("会話一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	if len(conversations) == 0 {
		p.logger.Info("会話が見つからないため待機します",
			slog.Duration("backoff", p.config.EmptyBackoff),
		)
		return p.config.EmptyBackoff
	}

	for _, conv := range conversations {
		if ctx.Err() != nil {
			break
		}
		// 処理を始めた会話はキャンセルされても送信まで完了させる
		p.pollConversation(context.WithoutCancel(ctx), conv.Token)
	}

	return p.config.PassInterval
}

// pollConversation は1つの会話のポーリングと返信を行い、エラー数を更新する。
func (p *Poller) pollConversation(ctx context.Context, token string) {
	state := p.stateFor(token)
	if state.suspended {
		return
	}

	now := p.now()
	if !state.lastPolledAt.IsZero() && now.Sub(state.lastPolledAt) < p.config.ConversationInterval {
		return
	}
	state.lastPolledAt = now

	messages := p.talk.FetchMessages(ctx, token)

	if err := p.respond(ctx, token, messages, state); err != nil {
		state.consecutiveErrors++
		p.logger.Warn("会話の処理に失敗しました",
			slog.String("token", token),
			slog.Int("consecutive_errors", state.consecutiveErrors),
			slog.String("error", err.Error()),
		)
		if state.consecutiveErrors > p.config.MaxConsecutiveErrors {
			state.suspended = true
			p.logger.Error("連続エラーが上限を超えたため会話を停止しました",
				slog.String("token", token),
				slog.Int("consecutive_errors", state.consecutiveErrors),
			)
			p.updateSuspendedGauge()
		}
		return
	}

	state.consecutiveErrors = 0
}

// respond は未処理の最初のトリガーメッセージに返信する。返信は1会話1巡回につき最大1件。
func (p *Poller) respond(ctx context.Context, token string, messages []talk.Message, state *conversationState) error {
	for _, msg := range messages {
		if strings.EqualFold(msg.ActorID, p.config.BotUsername) {
			continue
		}
		if !p.matchesTrigger(msg.Text) {
			continue
		}
		key := MessageKey{Token: token, MessageID: msg.ID}
		if p.dedup.Contains(key) {
			continue
		}
		return p.handleTrigger(ctx, key, state)
	}
	return nil
}

// handleTrigger はステータスを照会して返信する。
// ネットワーク呼び出しの前に処理済みとして記録するため、失敗しても同じメッセージには再返信しない。
func (p *Poller) handleTrigger(ctx context.Context, key MessageKey, state *conversationState) error {
	p.dedup.Add(key)
	token := key.Token

	if state.limiter != nil && !state.limiter.Allow() {
		p.logger.Warn("返信レート制限により返信をスキップしました",
			slog.String("token", token),
			slog.Int64("message_id", key.MessageID),
		)
		p.recordReply(metrics.ReplyOutcomeThrottled)
		return nil
	}

	status, err := p.status.Query(ctx)
	if err != nil {
		p.recordReply(metrics.ReplyOutcomeProbeFailed)
		return err
	}

	reply := FormatReply(status, p.sanitizer)
	if err := p.talk.SendMessage(ctx, token, reply); err != nil {
		p.recordReply(metrics.ReplyOutcomeSendFailed)
		return err
	}

	p.recordReply(metrics.ReplyOutcomeSent)
	p.logger.Info("返信を送信しました",
		slog.String("token", token),
		slog.Int64("message_id", key.MessageID),
	)
	return nil
}

// matchesTrigger はテキストがいずれかのトリガー語を含むかを大文字小文字を区別せずに判定する。
func (p *Poller) matchesTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range p.triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func (p *Poller) stateFor(token string) *conversationState {
	if s, ok := p.states[token]; ok {
		return s
	}
	s := &conversationState{}
	if n := p.config.ReplyRatePerMin; n > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	p.states[token] = s
	return s
}

// drainResume は溜まっている再開要求をすべて反映する。
func (p *Poller) drainResume() {
	for {
		select {
		case token := <-p.resumeCh:
			p.applyResume(token)
		default:
			return
		}
	}
}

func (p *Poller) applyResume(token string) {
	resumed := 0
	for t, s := range p.states {
		if token != resumeAll && t != token {
			continue
		}
		if s.suspended {
			s.suspended = false
			s.consecutiveErrors = 0
			resumed++
		}
	}
	if resumed > 0 {
		p.logger.Info("停止中の会話を再開しました",
			slog.String("token", token),
			slog.Int("resumed", resumed),
		)
		p.updateSuspendedGauge()
	}
}

// SuspendedCount は停止中の会話数を返す。
func (p *Poller) SuspendedCount() int {
	n := 0
	for _, s := range p.states {
		if s.suspended {
			n++
		}
	}
	return n
}

func (p *Poller) updateSuspendedGauge() {
	if p.recorder != nil {
		p.recorder.SetSuspendedConversations(p.SuspendedCount())
	}
}

func (p *Poller) recordReply(outcome string) {
	if p.recorder != nil {
		p.recorder.RecordBotReply(outcome)
	}
}

// sleep はdの間待機する。待機中に届いた再開要求は即座に反映する。
// ctxがキャンセルされた場合はfalseを返す。
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case token := <-p.resumeCh:
			p.applyResume(token)
		case <-timer.C:
			return true
		}
	}
}
