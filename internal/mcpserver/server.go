// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Kiln build tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/kiln/internal/apperr"
	"github.com/starford/kiln/internal/images"
	"github.com/starford/kiln/internal/site"
)

// TemplateSyntaxURI is the resource URI of TemplateSyntax.
const TemplateSyntaxURI = "kiln://template-syntax"

// Site is the build surface the tools operate on.
type Site interface {
	Build(ctx context.Context) (*site.Result, error)
	ListPages(ctx context.Context) ([]site.Page, error)
	RenderPage(ctx context.Context, name string) (string, error)
}

// Server wraps the MCP server with Kiln tools.
type Server struct {
	mcp    *server.MCPServer
	site   Site
	images *images.Library
}

// New creates a new MCP server with all Kiln tools registered. The image
// tools are only registered when lib is non-nil.
func New(s Site, lib *images.Library) *Server {
	srv := &Server{site: s, images: lib}

	srv.mcp = server.NewMCPServer(
		"Kiln",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	srv.mcp.AddTool(mcp.NewTool("build_site",
		mcp.WithDescription("Build the whole site: compose every page against its base and write the HTML output."),
	), srv.buildSite)

	srv.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List every page with its output path, base template and overridden blocks."),
	), srv.listPages)

	srv.mcp.AddTool(mcp.NewTool("render_page",
		mcp.WithDescription("Compose one page in memory and return its HTML without writing anything."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Page source name (e.g. blog/post.md) or output path (e.g. blog/post.html)")),
	), srv.renderPage)

	srv.mcp.AddTool(mcp.NewTool("get_template_syntax",
		mcp.WithDescription("Returns the Kiln template syntax. "+
			"Call this before writing pages or base templates."),
	), srv.getTemplateSyntax)

	if lib != nil {
		srv.mcp.AddTool(mcp.NewTool("add_image",
			mcp.WithDescription("Add an image to the site's image library from an http(s) URL or a base64 data URI. "+
				"Files are named by content, so adding the same image twice returns the existing entry. "+
				"Returns the URL the image is served at after the next build and a MarkDown snippet."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/<type>;base64,<data> URI")),
			mcp.WithString("name", mcp.Description("Optional name hint; derived from the URL when empty")),
		), srv.addImage)

		srv.mcp.AddTool(mcp.NewTool("list_images",
			mcp.WithDescription("List the images in the site's image library with their URLs."),
		), srv.listImages)
	}

	srv.mcp.AddResource(
		mcp.NewResource(TemplateSyntaxURI, "Template Syntax",
			mcp.WithResourceDescription("Block inheritance syntax for Kiln pages and base templates."),
			mcp.WithMIMEType("text/markdown"),
		),
		srv.readTemplateSyntaxResource,
	)

	return srv
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type buildSummary struct {
	Pages     int      `json:"pages"`
	Written   []string `json:"written"`
	Unchanged int      `json:"unchanged"`
	Pruned    []string `json:"pruned,omitempty"`
	Articles  int      `json:"articles"`
	Duration  string   `json:"duration"`
}

func (s *Server) buildSite(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.site.Build(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build failed: %v", err)), nil
	}
	written := res.Written
	if written == nil {
		written = []string{}
	}
	out, _ := json.MarshalIndent(buildSummary{
		Pages:     len(res.Pages),
		Written:   written,
		Unchanged: res.Unchanged,
		Pruned:    res.Pruned,
		Articles:  len(res.Articles),
		Duration:  res.Duration.String(),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listPages(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.site.ListPages(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if pages == nil {
		pages = []site.Page{}
	}
	out, _ := json.MarshalIndent(pages, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) renderPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	html, err := s.site.RenderPage(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(html), nil
}

func (s *Server) getTemplateSyntax(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateSyntax), nil
}

func (s *Server) readTemplateSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TemplateSyntaxURI,
			MIMEType: "text/markdown",
			Text:     TemplateSyntax,
		},
	}, nil
}
