package preview

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"barcode-scanner/internal/application"
	"barcode-scanner/internal/domain"
)

const jpegQuality = 80

var pageTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Сканер штрихкодов</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
	</style>
</head>
<body>
	<h1>Сканер штрихкодов</h1>
	<img id="preview" src="/snapshot.jpg"{{if .Class}} class="{{.Class}}"{{end}}{{if .Autofocus}} autofocus tabindex="0"{{end}}
		data-autoplay="{{.Autoplay}}" data-muted="{{.Muted}}" data-playsinline="{{.PlaysInline}}">
	<script>
		setInterval(function () {
			document.getElementById("preview").src = "/snapshot.jpg?t=" + Date.now();
		}, {{.RefreshMillis}});
	</script>
</body>
</html>
`))

// HTTPPreview показывает текущую поверхность захвата по HTTP
type HTTPPreview struct {
	mu      sync.RWMutex
	options domain.PreviewOptions
	frame   *image.RGBA
	frames  int
	refresh time.Duration
	logger  application.Logger
	router  *mux.Router
}

// NewHTTPPreview создает превью; refresh задает период обновления страницы
func NewHTTPPreview(refresh time.Duration, logger application.Logger) *HTTPPreview {
	if refresh <= 0 {
		refresh = application.DefaultScanDelay
	}

	p := &HTTPPreview{
		refresh: refresh,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	p.router.HandleFunc("/", p.handlePage).Methods(http.MethodGet)
	p.router.HandleFunc("/snapshot.jpg", p.handleSnapshot).Methods(http.MethodGet)

	return p
}

// Configure обновляет атрибуты элемента превью
func (p *HTTPPreview) Configure(options domain.PreviewOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.options = options
}

// Options возвращает текущие атрибуты элемента превью
func (p *HTTPPreview) Options() domain.PreviewOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.options
}

// Present сохраняет копию снимка: поверхность захвата переиспользуется между попытками
func (p *HTTPPreview) Present(img image.Image) {
	bounds := img.Bounds()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frame == nil || p.frame.Bounds() != bounds {
		p.frame = image.NewRGBA(bounds)
	}
	if src, ok := img.(*image.RGBA); ok && src.Stride == p.frame.Stride {
		copy(p.frame.Pix, src.Pix)
	} else {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				p.frame.Set(x, y, img.At(x, y))
			}
		}
	}

	p.frames++
	if p.frames%100 == 0 {
		p.logger.Debug("Превью: показано снимков %d", p.frames)
	}
}

// Clear убирает снимок после сброса захвата
func (p *HTTPPreview) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame = nil
}

// Handler возвращает HTTP обработчик превью
func (p *HTTPPreview) Handler() http.Handler {
	return p.router
}

// Serve обслуживает превью, пока не отменен контекст
func (p *HTTPPreview) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           p.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	p.logger.Info("Превью доступно по адресу http://%s/", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (p *HTTPPreview) handlePage(w http.ResponseWriter, r *http.Request) {
	options := p.Options()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := pageTemplate.Execute(w, struct {
		domain.PreviewOptions
		RefreshMillis int64
	}{options, p.refresh.Milliseconds()})
	if err != nil {
		p.logger.Error("Ошибка отрисовки страницы превью: %v", err)
	}
}

func (p *HTTPPreview) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer

	p.mu.RLock()
	frame := p.frame
	var err error
	if frame != nil {
		err = jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality})
	}
	p.mu.RUnlock()

	if frame == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		p.logger.Error("Ошибка кодирования снимка: %v", err)
		http.Error(w, "ошибка кодирования снимка", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}
