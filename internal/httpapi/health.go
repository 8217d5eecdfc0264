package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const rootBannerText = "Portfolio contact API is running."

// Health reports liveness. It never touches the mail relay or the archive.
func Health(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{jsonKeyOK: true})
}

// Root answers the bare origin with a plain banner.
func Root(context *gin.Context) {
	context.String(http.StatusOK, rootBannerText)
}
