package livehub

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"text/tabwriter"

	"github.com/gin-gonic/gin"
)

// Version 版本号
const Version = "0.3.0"

const banner = `
 _ _           _           _
| (_)_   _____| |__  _   _| |__
| | \ \ / / _ \ '_ \| | | | '_ \
| | |\ V /  __/ | | | |_| | |_) |
|_|_| \_/ \___|_| |_|\__,_|_.__/  v%s
`

// printBanner 打印 banner、路由表与运行信息
func (s *Server) printBanner(addr string) {
	writeBanner(os.Stdout, s.engine.Routes(), s.config.Mode, addr)
}

func writeBanner(out io.Writer, routes gin.RoutesInfo, mode, addr string) {
	_, _ = fmt.Fprintf(out, banner, Version)
	_, _ = fmt.Fprintln(out)

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range routes {
		_, _ = fmt.Fprintf(tw, "[livehub] %s\t%s\n", r.Method, r.Path)
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintf(out, "\n[livehub] mode=%s go=%s os=%s/%s\n", mode, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if mode == gin.DebugMode {
		_, _ = fmt.Fprintln(out, `[livehub] debug mode, use "release" in production`)
	}
	_, _ = fmt.Fprintf(out, "[livehub] listening on %s\n", addr)
}

// silenceGin 关闭 gin 自带输出，日志统一走 logger
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}
