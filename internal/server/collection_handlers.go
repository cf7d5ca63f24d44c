package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/collections"
	"github.com/MarcoPoloResearchLab/intentions/internal/debrief"
	"github.com/MarcoPoloResearchLab/intentions/internal/planner"
	"github.com/MarcoPoloResearchLab/intentions/internal/session"
	"github.com/gin-gonic/gin"
)

// collectionRoute binds one planner feature to its REST resource.
type collectionRoute[T collections.Item[T]] struct {
	path    string
	manager func(*session.Workspace) *collections.Manager[T]
	prepare func(item T, now time.Time) T
	withID  func(item T, id string) T
}

var intentionRoute = collectionRoute[planner.Intention]{
	path:    "intentions",
	manager: func(w *session.Workspace) *collections.Manager[planner.Intention] { return w.Intentions },
	prepare: planner.PrepareIntention,
	withID: func(item planner.Intention, id string) planner.Intention {
		item.ID = id
		return item
	},
}

var exerciseRoute = collectionRoute[planner.Exercise]{
	path:    "exercise",
	manager: func(w *session.Workspace) *collections.Manager[planner.Exercise] { return w.Exercise },
	prepare: planner.PrepareExercise,
	withID: func(item planner.Exercise, id string) planner.Exercise {
		item.ID = id
		return item
	},
}

var sleepRoute = collectionRoute[planner.Sleep]{
	path:    "sleep",
	manager: func(w *session.Workspace) *collections.Manager[planner.Sleep] { return w.Sleep },
	prepare: planner.PrepareSleep,
	withID: func(item planner.Sleep, id string) planner.Sleep {
		item.ID = id
		return item
	},
}

var goalRoute = collectionRoute[planner.Goal]{
	path:    "goals",
	manager: func(w *session.Workspace) *collections.Manager[planner.Goal] { return w.Goals },
	prepare: func(item planner.Goal, _ time.Time) planner.Goal { return planner.PrepareGoal(item) },
	withID: func(item planner.Goal, id string) planner.Goal {
		item.ID = id
		return item
	},
}

type collectionResponsePayload[T any] struct {
	Date      string `json:"date"`
	Item      *T     `json:"item,omitempty"`
	Active    []T    `json:"active"`
	Completed []T    `json:"completed"`
}

func newCollectionResponse[T any](h *httpHandler, view collections.View[T], item *T) collectionResponsePayload[T] {
	payload := collectionResponsePayload[T]{
		Date:      debrief.DayKey(view.ActiveDate, h.workspaces.Location()),
		Item:      item,
		Active:    view.Active,
		Completed: view.Completed,
	}
	if payload.Active == nil {
		payload.Active = []T{}
	}
	if payload.Completed == nil {
		payload.Completed = []T{}
	}
	return payload
}

// registerCollection mounts list, create, update, delete and toggle for route under group.
func registerCollection[T collections.Item[T]](group *gin.RouterGroup, h *httpHandler, route collectionRoute[T]) {
	base := "/" + route.path
	operation := func(action string) string {
		return fmt.Sprintf("%s.%s", route.path, action)
	}

	group.GET(base, func(c *gin.Context) {
		workspace, ok := h.workspace(c)
		if !ok {
			return
		}
		day, ok := h.activeDate(c)
		if !ok {
			return
		}
		view, err := route.manager(workspace).Fetch(c.Request.Context(), day)
		if err != nil {
			h.respondError(c, operation("list"), err)
			return
		}
		c.JSON(http.StatusOK, newCollectionResponse(h, view, nil))
	})

	group.POST(base, func(c *gin.Context) {
		workspace, ok := h.workspace(c)
		if !ok {
			return
		}
		var item T
		if err := c.ShouldBindJSON(&item); err != nil {
			h.respondInvalidRequest(c)
			return
		}
		item = route.prepare(item, h.clock())
		view, err := route.manager(workspace).Add(c.Request.Context(), item)
		if err != nil {
			h.respondError(c, operation("add"), err)
			return
		}
		c.JSON(http.StatusCreated, newCollectionResponse(h, view, &item))
	})

	group.PUT(base+"/:id", func(c *gin.Context) {
		workspace, ok := h.workspace(c)
		if !ok {
			return
		}
		manager := route.manager(workspace)
		id := c.Param("id")
		if _, found := manager.Find(id); !found {
			h.respondError(c, operation("update"), collections.ErrItemNotFound)
			return
		}
		var item T
		if err := c.ShouldBindJSON(&item); err != nil {
			h.respondInvalidRequest(c)
			return
		}
		item = route.prepare(route.withID(item, id), h.clock())
		view, err := manager.Update(c.Request.Context(), item)
		if err != nil {
			h.respondError(c, operation("update"), err)
			return
		}
		c.JSON(http.StatusOK, newCollectionResponse(h, view, &item))
	})

	group.DELETE(base+"/:id", func(c *gin.Context) {
		workspace, ok := h.workspace(c)
		if !ok {
			return
		}
		manager := route.manager(workspace)
		id := c.Param("id")
		if _, found := manager.Find(id); !found {
			h.respondError(c, operation("delete"), collections.ErrItemNotFound)
			return
		}
		view, err := manager.Delete(c.Request.Context(), id)
		if err != nil {
			h.respondError(c, operation("delete"), err)
			return
		}
		c.JSON(http.StatusOK, newCollectionResponse(h, view, nil))
	})

	group.POST(base+"/:id/toggle", func(c *gin.Context) {
		workspace, ok := h.workspace(c)
		if !ok {
			return
		}
		view, err := route.manager(workspace).ToggleCompletion(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.respondError(c, operation("toggle"), err)
			return
		}
		c.JSON(http.StatusOK, newCollectionResponse(h, view, nil))
	})
}
