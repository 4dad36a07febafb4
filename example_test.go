package nanoweb_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/xDarkicex/nanoweb"
)

func ExamplePattern_Match() {
	p, _ := nanoweb.CompilePattern("/files/<dir>/<name>.json")
	params, ok := p.Match("/files/docs/v1.2.json")
	fmt.Println(ok, params["dir"], params["name"])

	_, ok = p.Match("/files/docs/readme.txt")
	fmt.Println(ok)
	// Output:
	// true docs v1.2
	// false
}

func ExampleRouter_Lookup() {
	r := nanoweb.New()
	r.Route("/api/download/<name>", nanoweb.File("downloads"))
	r.Route("/", nanoweb.TemplateVars{})

	m, _ := r.Lookup("/api/download/report.pdf")
	name, _ := m.Params.Get("name")
	fmt.Println(m.Pattern, name)

	m, _ = r.Lookup("/")
	fmt.Println(m.Pattern)

	_, ok := r.Lookup("/index.html")
	fmt.Println(ok)
	// Output:
	// /api/download/<name> report.pdf
	// /
	// false
}

func ExampleValidationMiddleware() {
	r := nanoweb.New()
	r.Route("/users", nanoweb.Func(func(req *nanoweb.Request) error {
		return req.SendJSON(http.StatusCreated, req.JSONBody)
	}),
		nanoweb.AllowMethods(http.MethodPost),
		nanoweb.ValidationMiddleware(
			nanoweb.NewValidationChain("email").Required().IsEmail(),
			nanoweb.NewValidationChain("name").Required().Length(2, 50),
			nanoweb.NewValidationChain("role").OneOf("admin", "user", "editor"),
		),
	)
	fmt.Println(len(r.ListRoutes()))
	// Output: 1
}

func ExampleServer() {
	r := nanoweb.New()
	r.Route("/ping", nanoweb.Func(func(req *nanoweb.Request) error {
		return req.String(http.StatusOK, "pong")
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Println(err)
		return
	}
	srv := nanoweb.NewServer(r, nanoweb.Config{})
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(resp.StatusCode, string(body))
	// Output: 200 pong
}
