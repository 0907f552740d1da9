// Package api exposes the tasks table over HTTP. Every route maps to a single
// task.Service call and answers with the JSON envelope
// {"success":bool,"data":...,"message":...}.
package api
