package presence

import "sync"

// Conn 是注册表对活动连接的最小视图，便于在无网络环境下测试。
type Conn interface {
	ConnID() string
	// Send 将载荷排入连接的发送队列，队列不可用时返回 false。
	Send(payload []byte) bool
}

// UserInfo 是在线名单广播里单个用户的快照数据。
type UserInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type entry struct {
	conn     Conn
	username string
}

// Registry 维护用户到当前连接的映射，是"在线"的唯一权威来源。
// 同一用户重复注册时后连接胜出，旧连接不再可达但不会被强制关闭。
type Registry struct {
	mu       sync.Mutex
	entries  map[string]entry
	onChange func([]UserInfo)
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// OnChange 注册在每次 Register/Remove 后收到在线快照的回调。
// 回调在锁外执行，不得为 nil 检查之外的原因阻塞注册表。
func (r *Registry) OnChange(fn func([]UserInfo)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) Register(userID, username string, c Conn) {
	r.mu.Lock()
	r.entries[userID] = entry{conn: c, username: username}
	fn, snap := r.onChange, r.snapshotLocked()
	r.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Remove 仅在条目仍属于 connID 时删除，防止被顶替的旧连接
// 在断开时误删新连接的注册。幂等。
func (r *Registry) Remove(userID, connID string) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.conn.ConnID() != connID {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	fn, snap := r.onChange, r.snapshotLocked()
	r.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// Snapshot 返回在线集合的时点拷贝，调用方可以安全地持有和遍历。
func (r *Registry) Snapshot() []UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []UserInfo {
	out := make([]UserInfo, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, UserInfo{UserID: id, Username: e.username, Online: true})
	}
	return out
}

// BroadcastAll 尽力把载荷发给所有已注册连接，发送失败的连接直接跳过。
func (r *Registry) BroadcastAll(payload []byte) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		conns = append(conns, e.conn)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Send(payload)
	}
}
