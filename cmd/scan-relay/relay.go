package main

import (
	"html/template"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"barcode-scanner/internal/domain"
)

const viewerBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Разрешаем все подключения
	},
}

// Relay принимает события сканеров и раздает их наблюдателям
type Relay struct {
	mutex     sync.Mutex
	scanners  int
	viewers   map[chan domain.ScanEvent]struct{}
	counts    map[string]uint64
	dropped   uint64
	lastEvent *domain.ScanEvent
	started   time.Time
}

// NewRelay создает ретранслятор
func NewRelay() *Relay {
	return &Relay{
		viewers: make(map[chan domain.ScanEvent]struct{}),
		counts:  make(map[string]uint64),
		started: time.Now(),
	}
}

// Router возвращает маршруты ретранслятора
func (r *Relay) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", r.handleScanner)
	router.HandleFunc("/events", r.handleViewer)
	router.HandleFunc("/", r.handleStatus).Methods(http.MethodGet)
	return router
}

// handleScanner принимает JSON события от сканера
func (r *Relay) handleScanner(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	log.Printf("Сканер подключен: %s", clientAddr)
	r.mutex.Lock()
	r.scanners++
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		r.scanners--
		r.mutex.Unlock()
		log.Printf("Сканер отключен: %s", clientAddr)
	}()

	for {
		var event domain.ScanEvent
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Ошибка чтения: %v", err)
			}
			return
		}
		r.record(clientAddr, event)
	}
}

// handleViewer отдает наблюдателю поток событий всех сканеров
func (r *Relay) handleViewer(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	events := make(chan domain.ScanEvent, viewerBuffer)
	r.mutex.Lock()
	r.viewers[events] = struct{}{}
	r.mutex.Unlock()
	defer func() {
		r.mutex.Lock()
		delete(r.viewers, events)
		r.mutex.Unlock()
	}()

	// Наблюдатель ничего не присылает, чтение нужно только для обнаружения закрытия
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("Ошибка отправки наблюдателю: %v", err)
				return
			}
		}
	}
}

func (r *Relay) record(clientAddr string, event domain.ScanEvent) {
	switch event.Kind {
	case domain.EventScanSuccess:
		log.Printf("[%s] Распознан %s: %s", clientAddr, event.Format, event.Text)
	case domain.EventScanError:
		log.Printf("[%s] Ошибка сканирования: %s", clientAddr, event.Error)
	default:
		log.Printf("[%s] Событие %s", clientAddr, event.Kind)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.counts[event.Kind]++
	if event.Kind == domain.EventScanSuccess {
		last := event
		r.lastEvent = &last
	}
	for viewer := range r.viewers {
		select {
		case viewer <- event:
		default:
			r.dropped++
		}
	}
}

// RelayStats состояние ретранслятора для страницы статуса
type RelayStats struct {
	Scanners int
	Viewers  int
	Dropped  uint64
	Uptime   time.Duration
	Counts   []KindCount
	Last     *domain.ScanEvent
}

// KindCount число событий одного вида
type KindCount struct {
	Kind  string
	Count uint64
}

// Stats возвращает снимок счетчиков
func (r *Relay) Stats() RelayStats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats := RelayStats{
		Scanners: r.scanners,
		Viewers:  len(r.viewers),
		Dropped:  r.dropped,
		Uptime:   time.Since(r.started).Truncate(time.Second),
		Last:     r.lastEvent,
	}
	for kind, n := range r.counts {
		stats.Counts = append(stats.Counts, KindCount{Kind: kind, Count: n})
	}
	sort.Slice(stats.Counts, func(i, j int) bool { return stats.Counts[i].Kind < stats.Counts[j].Kind })
	return stats
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Ретранслятор событий сканера</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		.status { padding: 20px; background-color: #e0f7fa; border-radius: 5px; }
	</style>
</head>
<body>
	<h1>Ретранслятор событий сканера</h1>
	<div class="status">
		<p>✅ Сервер запущен и принимает соединения</p>
		<p>Сканеров: {{.Scanners}}, наблюдателей: {{.Viewers}}, пропущено: {{.Dropped}}, время работы: {{.Uptime}}</p>
		<ul>
		{{range .Counts}}<li><code>{{.Kind}}</code>: {{.Count}}</li>
		{{end}}</ul>
		{{with .Last}}<p>Последний код: <code>{{.Text}}</code> ({{.Format}})</p>{{end}}
	</div>
</body>
</html>
`))

// handleStatus простая страница-статус
func (r *Relay) handleStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, r.Stats()); err != nil {
		log.Printf("Ошибка отрисовки статуса: %v", err)
	}
}
