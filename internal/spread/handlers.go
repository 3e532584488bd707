package spread

import (
	"github.com/gin-gonic/gin"
	"github.com/meridianx/venue-api/pkg/response"
)

// GinHandlers exposes the controller's cached state for inspection.
type GinHandlers struct {
	controller *Controller
}

func NewGinHandlers(controller *Controller) *GinHandlers {
	return &GinHandlers{controller: controller}
}

// GetSnapshotHandler handles GET /internal/spread/:pool_id. Returns the
// last recalculation for the pool, if still cached.
func (h *GinHandlers) GetSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, ok := h.controller.CurrentSnapshot(c.Param("pool_id"))
		if !ok {
			response.NotFound(c, "No recent spread calculation for pool")
			return
		}
		response.Success(c, snapshot)
	}
}

// GetVolumeHandler handles GET /internal/spread/:pool_id/volume.
func (h *GinHandlers) GetVolumeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		poolID := c.Param("pool_id")
		response.Success(c, gin.H{
			"pool_id":       poolID,
			"hourly_volume": h.controller.HourlyVolume(poolID),
		})
	}
}
