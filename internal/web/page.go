package web

import (
	"html/template"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/render"
	"github.com/user/graphchat/internal/types"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>graphchat</title>
<style>
body { font-family: sans-serif; margin: 0; display: flex; }
nav { width: 16rem; padding: 1rem; border-right: 1px solid #ddd; }
main { flex: 1; padding: 1rem; }
.status-connected { color: #1a7f37; }
.status-error { color: #cf222e; }
.status-loading { color: #9a6700; }
.human { text-align: right; }
.tool { background: #f6f8fa; font-family: monospace; white-space: pre-wrap; }
.current { font-weight: bold; }
</style>
</head>
<body>
{{if .HistoryOpen}}
<nav>
<a href="?{{.NewChatQuery}}">New chat</a>
<ul>
{{range .Threads}}<li{{if .Current}} class="current"{{end}}><a href="?{{.Query}}">{{.Preview}}</a></li>
{{else}}<li>{{if .Loading}}Loading...{{else}}No threads{{end}}</li>
{{end}}
</ul>
</nav>
{{end}}
<main>
<p class="status-{{.Status}}">{{.Status}}: {{.Identity.ServiceURL}} / {{.Identity.AssistantID}}</p>
{{range .Messages}}<div class="{{.Class}}">{{.Text}}</div>
{{end}}
</main>
</body>
</html>
`))

type pageThread struct {
	Preview string
	Query   string
	Current bool
}

type pageMessage struct {
	Class string
	Text  string
}

type page struct {
	Status       types.Status
	Identity     types.Identity
	HistoryOpen  bool
	Loading      bool
	NewChatQuery string
	Threads      []pageThread
	Messages     []pageMessage
}

func (s *Server) pageData() page {
	params := s.chat.Params()
	id := s.chat.Identity()
	p := page{
		Status:      s.chat.Status(),
		Identity:    id,
		HistoryOpen: params.Bool(config.ParamChatHistoryOpen),
		Loading:     s.chat.ThreadsLoading(),
	}

	q := params.Query()
	q.Del(config.ParamThreadID)
	p.NewChatQuery = q.Encode()
	for _, t := range s.chat.Threads() {
		q.Set(config.ParamThreadID, t.ThreadID)
		p.Threads = append(p.Threads, pageThread{Preview: t.Preview, Query: q.Encode(), Current: t.ThreadID == id.ThreadID})
	}

	opts := render.Options{HideToolCalls: params.Bool(config.ParamHideToolCalls)}
	for _, it := range render.Items(s.chat.State().Messages, opts) {
		class := string(it.Role)
		if it.Tool != nil {
			class = "tool"
		}
		p.Messages = append(p.Messages, pageMessage{Class: class, Text: render.Plain(it)})
	}
	return p
}
