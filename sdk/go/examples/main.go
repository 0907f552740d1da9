package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"
	"time"

	"tasks-api/internal/api"
	"tasks-api/internal/storage/mysql"
	"tasks-api/internal/task"
	"tasks-api/sdk/go/tasks"
)

func main() {
	svc := task.NewService(mysql.NewMemoryTaskRepository())
	srv := httptest.NewServer(api.NewServer("", svc).Handler())
	defer srv.Close()

	client, err := tasks.NewClient(srv.URL, srv.Client())
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	priority := int32(2)
	id, err := client.CreateTask(ctx, tasks.CreateTaskInput{Name: "write report", Priority: &priority})
	if err != nil {
		log.Fatalf("create task: %v", err)
	}
	fmt.Printf("created task %d\n", id)

	bumped := int32(5)
	if err := client.UpdateTask(ctx, int32(id), tasks.UpdateTaskInput{Priority: &bumped}); err != nil {
		log.Fatalf("update task: %v", err)
	}

	got, err := client.GetTask(ctx, int32(id))
	if err != nil {
		log.Fatalf("get task: %v", err)
	}
	fmt.Printf("task %d: %s (priority %d)\n", got.TaskID, got.Name, *got.Priority)

	if err := client.DeleteTask(ctx, int32(id)); err != nil {
		log.Fatalf("delete task: %v", err)
	}
	if _, err := client.GetTask(ctx, int32(id)); err != nil {
		fmt.Printf("after delete: %v\n", err)
	}
}
