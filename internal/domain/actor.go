package domain

// AutomaticProcess 自动流程（如定时退房扫描）的操作者标签
const AutomaticProcess = "automatic process"

// Actor 当前操作者，由会话提供方给出 {uid, name, isAdmin}
type Actor struct {
	UID     string `json:"uid"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`

	// Automatic 为 true 时不做协调员解析，统一使用 AutomaticProcess 标签
	Automatic bool `json:"-"`
}

// SystemActor 构造自动流程操作者；uid 仍记录到审计日志
func SystemActor(uid string) Actor {
	return Actor{UID: uid, Name: AutomaticProcess, Automatic: true}
}
