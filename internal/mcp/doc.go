// Package mcp connects to Model Context Protocol servers over the official
// Go SDK (github.com/modelcontextprotocol/go-sdk) and wraps their tools so
// the agent driver can invoke them through the same tool.Tool interface as
// any built-in tool. This is the "sandbox" boundary SPEC_FULL.md §6.4
// describes: the core imposes no schema on what an MCP server does, only
// on the name/description/JSON-schema contract its tools expose.
//
// # Transports
//
//	TransportTypeStdio/TransportTypeLocal - subprocess over stdin/stdout
//	TransportTypeRemote                   - SSE over HTTP
//
// # Usage
//
//	client := mcp.NewClient()
//	err := client.AddServer(ctx, "search", &mcp.Config{
//	    Enabled: true,
//	    Type:    mcp.TransportTypeStdio,
//	    Command: []string{"python", "-m", "my_mcp_server"},
//	})
//
//	registry := tool.NewRegistry()
//	mcp.RegisterMCPTools(client, registry)
//
// A connection failure doesn't abort startup: the server is recorded with
// StatusFailed and its error, and contributes no tools to the registry.
// client.Status()/GetServer() report per-server connection state for
// startup logs and health checks.
package mcp
